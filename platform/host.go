//go:build !tinygo

package platform

import (
	"fmt"
	"strconv"
	"strings"

	"spibus-go/drivers/spibus/sim"
	"spibus-go/gpio"
	"spibus-go/services/config"
)

// Host is the simulated board. Sim and Pins stay reachable so tools and
// tests can swap devices or stall the clock.
type Host struct {
	*Platform
	Sim  *sim.Peripheral
	Pins *gpio.Fake
}

// Open returns the simulated platform for b.
func Open(b *config.Board) (*Platform, error) {
	h, err := NewHost(b)
	if err != nil {
		return nil, err
	}
	return h.Platform, nil
}

// NewHost wires a simulated controller, with the device named by the
// board's spi.device, to a fake GPIO controller.
func NewHost(b *config.Board) (*Host, error) {
	dev, err := DeviceFor(b.SPI.Device)
	if err != nil {
		return nil, err
	}
	regs := sim.New(dev)
	pins := gpio.NewFake()
	sim.WireNSS(pins, b.SPIPins().NSS, regs)
	return &Host{
		Platform: &Platform{Board: b, Regs: regs, GPIO: pins},
		Sim:      regs,
		Pins:     pins,
	}, nil
}

// DeviceFor builds a simulated slave: "w25q128", "loopback", "none" (or
// empty) for a floating bus, or "jedec:MMTTCC" for a flash answering that
// ID.
func DeviceFor(name string) (sim.Device, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "none":
		return nil, nil
	case "w25q128":
		return sim.W25Q128(), nil
	case "loopback":
		return sim.Loopback{}, nil
	}
	if hex, ok := strings.CutPrefix(name, "jedec:"); ok && len(hex) == 6 {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err == nil {
			return sim.NewFlash(byte(v>>16), byte(v>>8), byte(v)), nil
		}
	}
	return nil, fmt.Errorf("%w: device %q", ErrUnsupported, name)
}
