// Package spibus drives an STM32-style SPI controller as a bus master with
// a software chip-select line:
//
//	b := spibus.New(regs, gpioCtl, spibus.DefaultPins())
//	if !b.Init() {
//		// no JEDEC device answered; the bus is still usable
//	}
//	b.Select(true)
//	b.Transfer(cmd, resp, len(cmd))
//	b.Select(false)
//
// Init, Select, TransferByte and Transfer block by spinning on status flags
// with no bound, exactly as the firmware always has. The *Context variants
// run the same sequences with a bound taken from the context and
// Config.Timeout, and report ErrTimeout instead of stalling.
//
// A Bus is not safe for concurrent use. Callers serialise access and bracket
// each logical transaction with Select(true) ... Select(false).
package spibus

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	"spibus-go/gpio"
)

// Errors returned by the driver.
var (
	ErrTimeout     = errors.New("spibus: timeout")
	ErrShortBuffer = errors.New("spibus: short buffer")
	ErrNoDevice    = errors.New("spibus: no device")
	ErrUnsupported = errors.New("spibus: unsupported")
)

// PadByte is clocked out when a transfer has no output buffer.
const PadByte = 0xFF

// Bus is one SPI controller plus its pins.
type Bus struct {
	p    Peripheral
	io   gpio.Controller
	pins Pins
	cfg  Config
	log  logr.Logger
}

// New creates a Bus over peripheral p, using io for the pins. It does not
// touch the hardware; call Init.
func New(p Peripheral, io gpio.Controller, pins Pins, cfgs ...Config) *Bus {
	cfg := DefaultConfig()
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	cfg = cfg.withDefaults()
	return &Bus{
		p:    p,
		io:   io,
		pins: pins,
		cfg:  cfg,
		log:  cfg.Logger.WithValues("bus", cfg.Name),
	}
}

// Config returns the effective configuration.
func (b *Bus) Config() Config { return b.cfg }

// Pins returns the pin assignment.
func (b *Bus) Pins() Pins { return b.pins }

func (b *Bus) String() string { return b.cfg.Name }

// Init brings the controller and its pins into the configured state, then
// runs Probe and returns its result. Every register field is written from
// scratch, so Init may be repeated. A false result only means no known
// device answered; the bus is configured either way.
func (b *Bus) Init() bool {
	b.configure()
	ok := b.Probe()
	b.log.Info("spi configured",
		"variant", b.cfg.Variant.String(),
		"sck", b.cfg.Frequency().String(),
		"mode", b.cfg.Mode.String(),
		"probe", ok)
	return ok
}

func (b *Bus) configure() {
	b.p.EnableClock()
	b.p.Reset()

	gpio.Configure(b.io, b.pins.MOSI, gpio.ModeAltPushPull, gpio.Speed50MHz)
	gpio.Configure(b.io, b.pins.SCK, gpio.ModeAltPushPull, gpio.Speed50MHz)
	gpio.Configure(b.io, b.pins.MISO, gpio.ModeInputFloating, gpio.Speed50MHz)
	// Latch NSS high before it becomes an output so the line never glitches
	// active.
	gpio.High(b.io, b.pins.NSS)
	gpio.Configure(b.io, b.pins.NSS, gpio.ModeOutputPushPull, gpio.Speed50MHz)

	cr1, cr2 := b.cfg.Variant.FrameBits(b.cfg.cr1(), ResetCR2)
	b.p.Store(RegCR1, 0)
	b.p.Store(RegCR2, cr2)
	b.p.Store(RegCRCPR, b.cfg.CRCPolynomial)
	b.p.Store(RegCR1, cr1)
	b.p.Store(RegCR1, cr1|CR1SPE)
}

// Settings reads the controller configuration back from CR1/CR2.
func (b *Bus) Settings() Settings {
	return decodeSettings(b.p.Load(RegCR1), b.p.Load(RegCR2), b.cfg.Variant, b.cfg.PeripheralClock)
}

// Select drives NSS low when active, high otherwise.
func (b *Bus) Select(active bool) {
	if active {
		gpio.Low(b.io, b.pins.NSS)
	} else {
		gpio.High(b.io, b.pins.NSS)
	}
}

// TransferByte clocks out v and returns the byte clocked in. It returns
// only once the controller is idle, so calls may follow back to back.
func (b *Bus) TransferByte(v byte) byte {
	rx, _ := b.transferByte(context.Background(), v)
	return rx
}

// TransferByteContext is TransferByte bounded by ctx and Config.Timeout.
func (b *Bus) TransferByteContext(ctx context.Context, v byte) (byte, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	rx, err := b.transferByte(ctx, v)
	if err != nil {
		b.log.Error(err, "transfer byte stalled", "tx", v)
	}
	return rx, err
}

// Transfer exchanges n bytes. Each position sends out[i], or PadByte when
// out is nil, and stores the received byte in in[i] unless in is nil. n <= 0
// does nothing. The only false result is a non-nil buffer shorter than n;
// the hardware path has no failure outcome.
func (b *Bus) Transfer(out, in []byte, n int) bool {
	return b.transfer(context.Background(), out, in, n) == nil
}

// TransferContext is Transfer bounded by ctx and Config.Timeout.
func (b *Bus) TransferContext(ctx context.Context, out, in []byte, n int) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	err := b.transfer(ctx, out, in, n)
	if err != nil && !errors.Is(err, ErrShortBuffer) {
		b.log.Error(err, "transfer stalled", "len", n)
	}
	return err
}

func (b *Bus) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, b.cfg.Timeout)
	}
	return ctx, func() {}
}

func (b *Bus) transferByte(ctx context.Context, v byte) (byte, error) {
	dp := b.cfg.Variant
	dp.ReadData(b.p) // drop anything left from an earlier exchange
	dp.WriteData(b.p, v)
	if err := b.waitFlags(ctx, SRRXNE, true); err != nil {
		return 0, err
	}
	rx := dp.ReadData(b.p)
	if err := b.waitFlags(ctx, SRTXE, true); err != nil {
		return rx, err
	}
	if err := b.waitFlags(ctx, SRBSY, false); err != nil {
		return rx, err
	}
	return rx, nil
}

func (b *Bus) transfer(ctx context.Context, out, in []byte, n int) error {
	if n <= 0 {
		return nil
	}
	if (out != nil && len(out) < n) || (in != nil && len(in) < n) {
		return ErrShortBuffer
	}
	dp := b.cfg.Variant
	dp.ReadData(b.p)
	for i := 0; i < n; i++ {
		tx := byte(PadByte)
		if out != nil {
			tx = out[i]
		}
		if err := b.waitFlags(ctx, SRTXE, true); err != nil {
			return err
		}
		dp.WriteData(b.p, tx)
		if err := b.waitFlags(ctx, SRRXNE, true); err != nil {
			return err
		}
		rx := dp.ReadData(b.p)
		if in != nil {
			in[i] = rx
		}
	}
	return nil
}
