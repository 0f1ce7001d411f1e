//go:build tinygo && !stm32f103

package platform

import "spibus-go/services/config"

// Open has no register binding for this target.
func Open(b *config.Board) (*Platform, error) {
	return nil, ErrUnsupported
}
