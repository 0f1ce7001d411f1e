// Package gpio describes the pin capability bus drivers consume: configure a
// group of pins on one port, and drive pins high or low. Concrete controllers
// live in the platform package; Fake is the host stand-in used by tests.
package gpio

import (
	"errors"
	"math/bits"
	"strconv"
	"strings"
)

// ErrInvalidPin is returned when a pin identifier cannot be parsed.
var ErrInvalidPin = errors.New("gpio: invalid pin")

// Port identifies a GPIO port by its letter ('A'..'G').
type Port byte

const (
	PortA Port = 'A'
	PortB Port = 'B'
	PortC Port = 'C'
	PortD Port = 'D'
	PortE Port = 'E'
	PortF Port = 'F'
	PortG Port = 'G'
)

func (p Port) valid() bool { return p >= PortA && p <= PortG }

// Mask selects pins within a port, bit n for pin n.
type Mask uint16

// Pin is a port plus a pin mask. Most pins carry a single bit; Configure
// accepts several bits at once.
type Pin struct {
	Port Port
	Mask Mask
}

// NoPin is the zero Pin.
var NoPin Pin

// P returns pin n on port.
func P(port Port, n int) Pin {
	return Pin{Port: port, Mask: 1 << uint(n)}
}

// Valid reports whether the pin names a real port and at least one pin.
func (p Pin) Valid() bool { return p.Port.valid() && p.Mask != 0 }

// Number returns the index of the lowest selected pin, or -1.
func (p Pin) Number() int {
	if p.Mask == 0 {
		return -1
	}
	return bits.TrailingZeros16(uint16(p.Mask))
}

// String renders a single pin as "PB12".
func (p Pin) String() string {
	if !p.Valid() {
		return "NoPin"
	}
	return "P" + string(rune(p.Port)) + strconv.Itoa(p.Number())
}

// ParsePin parses identifiers such as "PB12" or "pa5".
func ParsePin(s string) (Pin, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 3 || s[0] != 'P' {
		return NoPin, ErrInvalidPin
	}
	port := Port(s[1])
	if !port.valid() {
		return NoPin, ErrInvalidPin
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n < 0 || n > 15 {
		return NoPin, ErrInvalidPin
	}
	return P(port, n), nil
}

// Mode is the electrical configuration of a pin.
type Mode uint8

const (
	ModeInputFloating Mode = iota
	ModeInputPull
	ModeAnalog
	ModeOutputPushPull
	ModeOutputOpenDrain
	ModeAltPushPull
	ModeAltOpenDrain
)

// IsOutput reports whether the mode drives the pin.
func (m Mode) IsOutput() bool { return m >= ModeOutputPushPull }

func (m Mode) String() string {
	switch m {
	case ModeInputFloating:
		return "in_floating"
	case ModeInputPull:
		return "in_pull"
	case ModeAnalog:
		return "analog"
	case ModeOutputPushPull:
		return "out_pp"
	case ModeOutputOpenDrain:
		return "out_od"
	case ModeAltPushPull:
		return "af_pp"
	case ModeAltOpenDrain:
		return "af_od"
	default:
		return "unknown"
	}
}

// Speed is the output slew limit. Ignored for inputs.
type Speed uint8

const (
	Speed2MHz Speed = iota
	Speed10MHz
	Speed50MHz
)

// Controller configures and drives pins. Implementations are not required
// to be safe for concurrent use.
type Controller interface {
	Configure(port Port, mask Mask, mode Mode, speed Speed)
	Set(port Port, mask Mask, high bool)
}

// Configure applies mode and speed to pin p on c.
func Configure(c Controller, p Pin, mode Mode, speed Speed) {
	c.Configure(p.Port, p.Mask, mode, speed)
}

// High drives p high on c.
func High(c Controller, p Pin) { c.Set(p.Port, p.Mask, true) }

// Low drives p low on c.
func Low(c Controller, p Pin) { c.Set(p.Port, p.Mask, false) }
