package spibus

import (
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"spibus-go/gpio"
	"spibus-go/x/mathx"
)

// Prescaler divides the peripheral clock down to the SCK rate. The zero
// value means "default" (Div8).
type Prescaler uint8

const (
	Div2 Prescaler = iota + 1
	Div4
	Div8
	Div16
	Div32
	Div64
	Div128
	Div256
)

// Divisor returns the clock divisor, 0 for an invalid prescaler.
func (p Prescaler) Divisor() uint32 {
	if p < Div2 || p > Div256 {
		return 0
	}
	return 1 << uint(p)
}

// br returns the CR1.BR field value.
func (p Prescaler) br() uint16 { return uint16(p-1) << CR1BRPos }

func (p Prescaler) String() string {
	if p.Divisor() == 0 {
		return "div?"
	}
	return "div" + strconv.Itoa(int(p.Divisor()))
}

// PrescalerFor returns the smallest divisor that keeps SCK at or below max.
// Requests beyond the hardware range saturate at Div2 or Div256.
func PrescalerFor(clock, max physic.Frequency) Prescaler {
	if max <= 0 || clock <= max {
		return Div2
	}
	need := mathx.CeilDiv(uint64(clock), uint64(max))
	k := mathx.Clamp(mathx.CeilLog2(need), 1, 8)
	return Prescaler(k)
}

// Pins names the four bus signals.
type Pins struct {
	MOSI gpio.Pin
	MISO gpio.Pin
	SCK  gpio.Pin
	NSS  gpio.Pin
}

// DefaultPins is SPI2 on port B: PB15 MOSI, PB14 MISO, PB13 SCK, PB12 NSS.
func DefaultPins() Pins {
	return Pins{
		MOSI: gpio.P(gpio.PortB, 15),
		MISO: gpio.P(gpio.PortB, 14),
		SCK:  gpio.P(gpio.PortB, 13),
		NSS:  gpio.P(gpio.PortB, 12),
	}
}

// Config holds the bus parameters. Zero fields take defaults, except Mode
// and LSBFirst which are used as given; start from DefaultConfig to keep
// the standard CPOL=1/CPHA=1 setting.
type Config struct {
	// Name labels the bus in logs and String(). Default "spi2".
	Name string
	// Variant selects the silicon family. Default VariantF10x.
	Variant Variant
	// Prescaler defaults to Div8.
	Prescaler Prescaler
	// Mode carries CPOL/CPHA. Only the low two bits are used.
	Mode spi.Mode
	// LSBFirst flips the bit order. Default MSB first.
	LSBFirst bool
	// CRCPolynomial is written to CRCPR. CRC is never enabled. Default 7.
	CRCPolynomial uint16
	// PeripheralClock is the APB clock feeding the peripheral. Default 36 MHz.
	PeripheralClock physic.Frequency
	// Timeout bounds each flag wait in the context-taking operations. Zero
	// leaves them bounded only by the caller's context.
	Timeout time.Duration
	// Logger defaults to logr.Discard().
	Logger logr.Logger
}

// DefaultConfig is the standard setup: PCLK/8, clock idle high, sample on
// the second edge, MSB first, 8-bit frames.
func DefaultConfig() Config {
	return Config{
		Name:            "spi2",
		Variant:         VariantF10x,
		Prescaler:       Div8,
		Mode:            spi.Mode3,
		CRCPolynomial:   7,
		PeripheralClock: 36 * physic.MegaHertz,
		Logger:          logr.Discard(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Variant == nil {
		c.Variant = d.Variant
	}
	if c.Prescaler.Divisor() == 0 {
		c.Prescaler = d.Prescaler
	}
	if c.CRCPolynomial == 0 {
		c.CRCPolynomial = d.CRCPolynomial
	}
	if c.PeripheralClock <= 0 {
		c.PeripheralClock = d.PeripheralClock
	}
	if c.Logger.GetSink() == nil {
		c.Logger = d.Logger
	}
	c.Mode &= spi.Mode3
	return c
}

// Frequency returns the SCK rate this config produces.
func (c Config) Frequency() physic.Frequency {
	div := c.Prescaler.Divisor()
	if div == 0 {
		return 0
	}
	return c.PeripheralClock / physic.Frequency(div)
}

// cr1 builds CR1 without SPE.
func (c Config) cr1() uint16 {
	v := uint16(CR1MSTR | CR1SSM | CR1SSI)
	v |= c.Prescaler.br()
	if c.Mode&spi.Mode2 != 0 {
		v |= CR1CPOL
	}
	if c.Mode&spi.Mode1 != 0 {
		v |= CR1CPHA
	}
	if c.LSBFirst {
		v |= CR1LSBFIRST
	}
	return v
}

// Settings is the bus configuration as read back from the registers.
type Settings struct {
	Enabled     bool
	Master      bool
	SoftwareNSS bool
	FullDuplex  bool
	LSBFirst    bool
	Mode        spi.Mode
	Prescaler   Prescaler
	FrameBits   int
	Frequency   physic.Frequency
}

// IdleHigh reports CPOL=1.
func (s Settings) IdleHigh() bool { return s.Mode&spi.Mode2 != 0 }

// SecondEdge reports CPHA=1.
func (s Settings) SecondEdge() bool { return s.Mode&spi.Mode1 != 0 }

func decodeSettings(cr1, cr2 uint16, v Variant, clock physic.Frequency) Settings {
	s := Settings{
		Enabled:     cr1&CR1SPE != 0,
		Master:      cr1&CR1MSTR != 0,
		SoftwareNSS: cr1&CR1SSM != 0,
		FullDuplex:  cr1&(CR1BIDIMODE|CR1RXONLY) == 0,
		LSBFirst:    cr1&CR1LSBFIRST != 0,
		Prescaler:   Prescaler((cr1&CR1BRMask)>>CR1BRPos) + 1,
		FrameBits:   v.FrameSize(cr1, cr2),
	}
	if cr1&CR1CPOL != 0 {
		s.Mode |= spi.Mode2
	}
	if cr1&CR1CPHA != 0 {
		s.Mode |= spi.Mode1
	}
	s.Frequency = clock / physic.Frequency(s.Prescaler.Divisor())
	return s
}
