// Package sim is a register-level model of the SPI controller driven by
// package spibus, with pluggable slave devices. It exists so the driver's
// register sequencing can be exercised on the host.
//
// Frames complete instantly when written: TXE stays set, RXNE rises with
// the received byte and BSY never lingers. A stopped clock, a disabled
// controller or Stall leaves the frame pending with TXE clear and BSY set,
// which is how a hung bus looks to the driver.
package sim

import (
	"math/bits"
	"sync"

	"periph.io/x/conn/v3/spi"

	"spibus-go/drivers/spibus"
	"spibus-go/gpio"
)

// Floating is what MISO reads when nothing drives it.
const Floating = 0x00

// Device is a slave on the simulated bus. Exchange is called for every
// frame whether or not the device is selected; an unselected device should
// return Floating.
type Device interface {
	Select(active bool)
	Exchange(mosi byte) (miso byte)
}

// ModeAccepter is implemented by devices that only sample correctly in some
// clock modes. In any other mode both directions slip by one bit.
type ModeAccepter interface {
	Accepts(mode spi.Mode) bool
}

// Peripheral implements spibus.Peripheral.
type Peripheral struct {
	mu sync.Mutex

	cr1, cr2, crcpr uint16
	sr              uint16
	rx              uint16
	pending         *byte

	clockOn  bool
	stalled  bool
	resets   int
	selected bool

	dev    Device
	sent   []byte
	frames [][]byte
	cur    []byte
	dr8    int
	dr16   int
}

var _ spibus.Peripheral = (*Peripheral)(nil)

// New returns a controller in its reset state, clock gated, with dev
// attached (nil for an empty bus).
func New(dev Device) *Peripheral {
	p := &Peripheral{dev: dev}
	p.reset()
	return p
}

// WireNSS makes level changes of nss on f select and deselect p's device.
func WireNSS(f *gpio.Fake, nss gpio.Pin, p *Peripheral) {
	f.Watch(nss, func(high bool) { p.SetSelected(!high) })
}

func (p *Peripheral) reset() {
	p.cr1 = 0
	p.cr2 = spibus.ResetCR2
	p.crcpr = spibus.ResetCRCPR
	p.sr = spibus.ResetSR
	p.rx = 0
	p.pending = nil
}

// Attach replaces the device on the bus.
func (p *Peripheral) Attach(dev Device) {
	p.mu.Lock()
	p.dev = dev
	p.mu.Unlock()
}

// SetSelected is the chip-select input: true while NSS is low.
func (p *Peripheral) SetSelected(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if active == p.selected {
		return
	}
	p.selected = active
	if active {
		p.cur = []byte{}
	} else if p.cur != nil {
		p.frames = append(p.frames, p.cur)
		p.cur = nil
	}
	if p.dev != nil {
		p.dev.Select(active)
	}
}

// SetStalled stops (true) or restarts the bus clock. Restarting completes a
// pending frame.
func (p *Peripheral) SetStalled(stalled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stalled = stalled
	if !stalled && p.pending != nil && p.running() {
		v := *p.pending
		p.pending = nil
		p.clock(v)
	}
}

// EnableClock implements spibus.Peripheral.
func (p *Peripheral) EnableClock() {
	p.mu.Lock()
	p.clockOn = true
	p.mu.Unlock()
}

// Reset implements spibus.Peripheral.
func (p *Peripheral) Reset() {
	p.mu.Lock()
	p.resets++
	p.reset()
	p.mu.Unlock()
}

// Load implements spibus.Peripheral.
func (p *Peripheral) Load(r spibus.Register) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch r {
	case spibus.RegCR1:
		return p.cr1
	case spibus.RegCR2:
		return p.cr2
	case spibus.RegSR:
		return p.sr
	case spibus.RegCRCPR:
		return p.crcpr
	case spibus.RegDR:
		p.dr16++
		return p.readDR()
	}
	return 0
}

// Store implements spibus.Peripheral.
func (p *Peripheral) Store(r spibus.Register, v uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch r {
	case spibus.RegCR1:
		p.storeCR1(v)
	case spibus.RegCR2:
		p.cr2 = v
	case spibus.RegCRCPR:
		p.crcpr = v
	case spibus.RegDR:
		p.dr16++
		p.writeDR(byte(v))
	}
}

// LoadDR8 implements spibus.Peripheral.
func (p *Peripheral) LoadDR8() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dr8++
	return byte(p.readDR())
}

// StoreDR8 implements spibus.Peripheral.
func (p *Peripheral) StoreDR8(v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dr8++
	p.writeDR(v)
}

func (p *Peripheral) storeCR1(v uint16) {
	// Master with software NSS and SSI low is a mode fault: the controller
	// drops out of master mode and disables itself.
	if v&spibus.CR1MSTR != 0 && v&spibus.CR1SSM != 0 && v&spibus.CR1SSI == 0 {
		p.sr |= spibus.SRMODF
		v &^= spibus.CR1MSTR | spibus.CR1SPE
	}
	p.cr1 = v
	if p.pending != nil && p.running() {
		b := *p.pending
		p.pending = nil
		p.clock(b)
	}
}

func (p *Peripheral) running() bool {
	return p.clockOn && !p.stalled &&
		p.cr1&spibus.CR1SPE != 0 && p.cr1&spibus.CR1MSTR != 0
}

func (p *Peripheral) readDR() uint16 {
	p.sr &^= spibus.SRRXNE
	return p.rx
}

func (p *Peripheral) writeDR(v byte) {
	if !p.running() {
		p.pending = &v
		p.sr &^= spibus.SRTXE
		p.sr |= spibus.SRBSY
		return
	}
	p.clock(v)
}

// clock shifts one frame out and in.
func (p *Peripheral) clock(mosi byte) {
	p.sent = append(p.sent, mosi)
	if p.cur != nil {
		p.cur = append(p.cur, mosi)
	}
	miso := byte(Floating)
	if p.dev != nil {
		lsb := p.cr1&spibus.CR1LSBFIRST != 0
		wire := mosi
		if lsb {
			wire = bits.Reverse8(wire)
		}
		slip := false
		if ma, ok := p.dev.(ModeAccepter); ok && !ma.Accepts(p.mode()) {
			slip = true
			wire >>= 1
		}
		miso = p.dev.Exchange(wire)
		if slip {
			miso >>= 1
		}
		if lsb {
			miso = bits.Reverse8(miso)
		}
	}
	if p.sr&spibus.SRRXNE != 0 {
		// Receive buffer still full: the new byte is lost.
		p.sr |= spibus.SROVR
	} else {
		p.rx = uint16(miso)
		p.sr |= spibus.SRRXNE
	}
	p.sr |= spibus.SRTXE
	p.sr &^= spibus.SRBSY
}

func (p *Peripheral) mode() spi.Mode {
	var m spi.Mode
	if p.cr1&spibus.CR1CPOL != 0 {
		m |= spi.Mode2
	}
	if p.cr1&spibus.CR1CPHA != 0 {
		m |= spi.Mode1
	}
	return m
}

// ClockEnabled reports whether EnableClock has been called.
func (p *Peripheral) ClockEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clockOn
}

// Resets returns how many reset pulses were seen.
func (p *Peripheral) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// CRCPolynomial returns the CRCPR register.
func (p *Peripheral) CRCPolynomial() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crcpr
}

// Selected reports the chip-select input.
func (p *Peripheral) Selected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Sent returns every byte clocked out since the last ClearLog.
func (p *Peripheral) Sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.sent...)
}

// Frames returns the bytes clocked out during each completed selection.
func (p *Peripheral) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	for i, f := range p.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// DataAccesses returns the number of 8-bit and 16-bit data register
// accesses.
func (p *Peripheral) DataAccesses() (w8, w16 int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dr8, p.dr16
}

// ClearLog forgets recorded traffic and access counts.
func (p *Peripheral) ClearLog() {
	p.mu.Lock()
	p.sent = nil
	p.frames = nil
	p.dr8, p.dr16 = 0, 0
	p.mu.Unlock()
}
