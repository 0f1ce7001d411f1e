// Package platform binds a board description to the hardware behind it:
// the SPI register block and the GPIO controller. Host builds get the
// simulator; TinyGo builds for stm32f103 get the real registers.
package platform

import (
	"errors"

	"github.com/go-logr/logr"

	"spibus-go/drivers/spibus"
	"spibus-go/gpio"
	"spibus-go/services/config"
)

var ErrUnsupported = errors.New("platform: unsupported target")

// Platform is one board's hardware.
type Platform struct {
	Board *config.Board
	Regs  spibus.Peripheral
	GPIO  gpio.Controller
}

// NewBus creates the board's SPI bus handle. It does not touch hardware.
func (p *Platform) NewBus(log logr.Logger) *spibus.Bus {
	return spibus.New(p.Regs, p.GPIO, p.Board.SPIPins(), p.Board.BusConfig(log))
}

// InitLEDs configures the board's status LEDs as outputs, off.
func (p *Platform) InitLEDs() {
	for _, led := range p.Board.LEDs {
		gpio.Low(p.GPIO, led)
		gpio.Configure(p.GPIO, led, gpio.ModeOutputPushPull, gpio.Speed2MHz)
	}
}

// SetLED drives LED i. Out-of-range indexes are ignored, so boards with
// cut jumpers simply have no LEDs.
func (p *Platform) SetLED(i int, on bool) {
	if i < 0 || i >= len(p.Board.LEDs) {
		return
	}
	p.GPIO.Set(p.Board.LEDs[i].Port, p.Board.LEDs[i].Mask, on)
}
