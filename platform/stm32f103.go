//go:build tinygo && stm32f103

package platform

import (
	"device/stm32"
	"runtime/volatile"

	"spibus-go/drivers/spibus"
	"spibus-go/gpio"
	"spibus-go/services/config"
)

// Open binds b to the on-chip SPI2 and GPIO blocks.
func Open(b *config.Board) (*Platform, error) {
	if b.SPI.Instance != "spi2" {
		return nil, ErrUnsupported
	}
	return &Platform{Board: b, Regs: spi2Regs{}, GPIO: portsF1{}}, nil
}

// ---- SPI2 register block ----

type spi2Regs struct{}

func (spi2Regs) EnableClock() {
	stm32.RCC.APB1ENR.SetBits(stm32.RCC_APB1ENR_SPI2EN)
}

func (spi2Regs) Reset() {
	stm32.RCC.APB1RSTR.SetBits(stm32.RCC_APB1RSTR_SPI2RST)
	stm32.RCC.APB1RSTR.ClearBits(stm32.RCC_APB1RSTR_SPI2RST)
}

func (spi2Regs) reg(r spibus.Register) *volatile.Register32 {
	switch r {
	case spibus.RegCR1:
		return &stm32.SPI2.CR1
	case spibus.RegCR2:
		return &stm32.SPI2.CR2
	case spibus.RegSR:
		return &stm32.SPI2.SR
	case spibus.RegDR:
		return &stm32.SPI2.DR
	case spibus.RegCRCPR:
		return &stm32.SPI2.CRCPR
	}
	return nil
}

func (s spi2Regs) Load(r spibus.Register) uint16 {
	if p := s.reg(r); p != nil {
		return uint16(p.Get())
	}
	return 0
}

func (s spi2Regs) Store(r spibus.Register, v uint16) {
	if p := s.reg(r); p != nil {
		p.Set(uint32(v))
	}
}

// The F1 data register has no packing; with DFF clear a word access moves
// exactly one frame.
func (spi2Regs) LoadDR8() uint8 { return uint8(stm32.SPI2.DR.Get()) }

func (spi2Regs) StoreDR8(v uint8) { stm32.SPI2.DR.Set(uint32(v)) }

// ---- GPIO (CRL/CRH, BSRR/BRR) ----

type portsF1 struct{}

func (portsF1) port(p gpio.Port) (*stm32.GPIO_Type, uint32) {
	switch p {
	case gpio.PortA:
		return stm32.GPIOA, stm32.RCC_APB2ENR_IOPAEN
	case gpio.PortB:
		return stm32.GPIOB, stm32.RCC_APB2ENR_IOPBEN
	case gpio.PortC:
		return stm32.GPIOC, stm32.RCC_APB2ENR_IOPCEN
	case gpio.PortD:
		return stm32.GPIOD, stm32.RCC_APB2ENR_IOPDEN
	case gpio.PortE:
		return stm32.GPIOE, stm32.RCC_APB2ENR_IOPEEN
	}
	return nil, 0
}

// cnfMode returns the 4-bit CNF:MODE nibble.
func cnfMode(mode gpio.Mode, speed gpio.Speed) uint32 {
	var m uint32
	switch speed {
	case gpio.Speed10MHz:
		m = 0b01
	case gpio.Speed2MHz:
		m = 0b10
	default:
		m = 0b11
	}
	switch mode {
	case gpio.ModeAnalog:
		return 0b0000
	case gpio.ModeInputFloating:
		return 0b0100
	case gpio.ModeInputPull:
		return 0b1000
	case gpio.ModeOutputPushPull:
		return 0b0000 | m
	case gpio.ModeOutputOpenDrain:
		return 0b0100 | m
	case gpio.ModeAltPushPull:
		return 0b1000 | m
	case gpio.ModeAltOpenDrain:
		return 0b1100 | m
	}
	return 0b0100
}

func (f portsF1) Configure(port gpio.Port, mask gpio.Mask, mode gpio.Mode, speed gpio.Speed) {
	regs, en := f.port(port)
	if regs == nil {
		return
	}
	stm32.RCC.APB2ENR.SetBits(en)
	nib := cnfMode(mode, speed)
	for n := 0; n < 16; n++ {
		if mask&(1<<uint(n)) == 0 {
			continue
		}
		cr := &regs.CRL
		shift := uint8(n * 4)
		if n >= 8 {
			cr = &regs.CRH
			shift = uint8((n - 8) * 4)
		}
		cr.ReplaceBits(nib, 0xF, shift)
		if mode == gpio.ModeInputPull {
			// ODR selects pull-up; default to up.
			regs.BSRR.Set(1 << uint(n))
		}
	}
}

func (f portsF1) Set(port gpio.Port, mask gpio.Mask, high bool) {
	regs, _ := f.port(port)
	if regs == nil {
		return
	}
	if high {
		regs.BSRR.Set(uint32(mask))
	} else {
		regs.BRR.Set(uint32(mask))
	}
}
