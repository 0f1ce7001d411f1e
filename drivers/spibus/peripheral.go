package spibus

import (
	"errors"
	"strings"
)

// Peripheral is the register file of one SPI controller together with its
// clock gate and reset line. Platform packages bind it to silicon; the sim
// package provides a host model.
type Peripheral interface {
	// EnableClock ungates the peripheral clock.
	EnableClock()
	// Reset pulses the peripheral reset; all registers return to reset values.
	Reset()
	// Load reads a register with a 16-bit access.
	Load(r Register) uint16
	// Store writes a register with a 16-bit access.
	Store(r Register, v uint16)
	// LoadDR8 reads the data register with an 8-bit access.
	LoadDR8() uint8
	// StoreDR8 writes the data register with an 8-bit access.
	StoreDR8(v uint8)
}

// Variant captures what differs between supported silicon families: how an
// 8-bit frame is selected and how wide the data register accesses are. The
// transfer logic only talks to the data register through a Variant.
type Variant interface {
	String() string
	// FrameBits adds the 8-bit frame selection to cr1/cr2.
	FrameBits(cr1, cr2 uint16) (uint16, uint16)
	// FrameSize decodes the configured frame width in bits.
	FrameSize(cr1, cr2 uint16) int
	WriteData(p Peripheral, b byte)
	ReadData(p Peripheral) byte
}

var (
	// VariantF10x uses DFF for the frame width and byte-wide data accesses.
	VariantF10x Variant = f10x{}
	// VariantF30x uses CR2.DS/FRXTH and half-word data accesses.
	VariantF30x Variant = f30x{}
)

// ErrUnknownVariant is returned by ParseVariant.
var ErrUnknownVariant = errors.New("spibus: unknown variant")

// ParseVariant maps a configuration name to a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case "", "stm32f10x", "f10x", "stm32f1":
		return VariantF10x, nil
	case "stm32f30x", "f30x", "stm32f3":
		return VariantF30x, nil
	}
	return nil, ErrUnknownVariant
}

type f10x struct{}

func (f10x) String() string { return "stm32f10x" }

func (f10x) FrameBits(cr1, cr2 uint16) (uint16, uint16) {
	return cr1 &^ CR1DFF, cr2
}

func (f10x) FrameSize(cr1, _ uint16) int {
	if cr1&CR1DFF != 0 {
		return 16
	}
	return 8
}

func (f10x) WriteData(p Peripheral, b byte) { p.StoreDR8(b) }
func (f10x) ReadData(p Peripheral) byte { return p.LoadDR8() }

type f30x struct{}

func (f30x) String() string { return "stm32f30x" }

func (f30x) FrameBits(cr1, cr2 uint16) (uint16, uint16) {
	cr2 = cr2&^CR2DSMask | 0x7<<CR2DSPos | CR2FRXTH
	return cr1 &^ CR1DFF, cr2
}

func (f30x) FrameSize(_, cr2 uint16) int {
	ds := int(cr2&CR2DSMask) >> CR2DSPos
	if ds < 3 {
		// Reserved encodings read back as 8-bit.
		return 8
	}
	return ds + 1
}

func (f30x) WriteData(p Peripheral, b byte) { p.Store(RegDR, uint16(b)) }
func (f30x) ReadData(p Peripheral) byte { return byte(p.Load(RegDR)) }
