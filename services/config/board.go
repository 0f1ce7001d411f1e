package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"spibus-go/drivers/spibus"
	"spibus-go/gpio"
	"spibus-go/x/mathx"
)

var (
	ErrUnknownBoard  = errors.New("config: unknown board")
	ErrUnknownOption = errors.New("config: unknown option")
	ErrUnknownSensor = errors.New("config: unknown sensor")
	ErrInvalidBoard  = errors.New("config: invalid board")
)

// Board is the static description of one target: clock, SPI wiring, LED
// jumpers and the sensors the firmware is built with.
type Board struct {
	Name         string          `json:"name"`
	CoreClockMHz int             `json:"core_clock_mhz"`
	SPI          SPIBoard        `json:"spi"`
	Options      []string        `json:"options,omitempty"`
	Sensors      []string        `json:"sensors"`
	SensorsSet   []string        `json:"sensors_set,omitempty"`
	Heartbeat    HeartbeatConfig `json:"heartbeat"`

	// Derived by Parse.
	LEDs           []gpio.Pin `json:"-"`
	SensorMask     Sensor     `json:"-"`
	SensorsSetMask Sensor     `json:"-"`
	pins           spibus.Pins
	variant        spibus.Variant
}

// SPIBoard is the SPI section of a board.
type SPIBoard struct {
	Instance  string  `json:"instance"`
	Variant   string  `json:"variant"`
	PCLKMHz   int     `json:"pclk_mhz"`
	MaxSCKKHz int     `json:"max_sck_khz,omitempty"` // 0: fixed PCLK/8
	Mode      *int    `json:"mode,omitempty"`        // 0..3, default 3
	LSBFirst  bool    `json:"lsb_first,omitempty"`
	TimeoutMs uint32  `json:"timeout_ms,omitempty"`
	Pins      SPIPins `json:"pins"`
	// Device names what sits on the bus; the host platform attaches a
	// matching model ("w25q128", "loopback", "none").
	Device string `json:"device,omitempty"`
}

type SPIPins struct {
	MOSI string `json:"mosi"`
	MISO string `json:"miso"`
	SCK  string `json:"sck"`
	NSS  string `json:"nss"`
}

type HeartbeatConfig struct {
	IntervalS int `json:"interval"`
}

// Recognised board options.
const (
	OptUncutLED1E = "uncut_led1_e_jumper" // LED0 on PA5
	OptUncutLED2E = "uncut_led2_e_jumper" // LED1 on PA1; PWM2 unavailable
)

var knownOptions = map[string]gpio.Pin{
	OptUncutLED1E: gpio.P(gpio.PortA, 5),
	OptUncutLED2E: gpio.P(gpio.PortA, 1),
}

// Parse decodes and validates a board document.
func Parse(raw []byte) (*Board, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var b Board
	if err := dec.Decode(&b); err != nil {
		return nil, err
	}
	if err := b.resolve(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Load parses the embedded board called name.
func Load(name string) (*Board, error) {
	raw, ok := EmbeddedConfigLookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, name)
	}
	return Parse(raw)
}

// Boards lists the embedded board names, sorted.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (b *Board) resolve() error {
	if b.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidBoard)
	}
	if b.CoreClockMHz <= 0 {
		return fmt.Errorf("%w: core_clock_mhz must be positive", ErrInvalidBoard)
	}

	b.LEDs = b.LEDs[:0]
	seen := map[string]bool{}
	for _, o := range b.Options {
		o = strings.ToLower(o)
		pin, ok := knownOptions[o]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOption, o)
		}
		if seen[o] {
			continue
		}
		seen[o] = true
		b.LEDs = append(b.LEDs, pin)
	}
	// LED0 before LED1 regardless of option order.
	sort.Slice(b.LEDs, func(i, j int) bool { return b.LEDs[i].Number() > b.LEDs[j].Number() })

	var err error
	if b.SensorMask, err = ParseSensors(b.Sensors); err != nil {
		return err
	}
	if b.SensorsSetMask, err = ParseSensors(b.SensorsSet); err != nil {
		return err
	}
	if b.SensorsSetMask&^b.SensorMask != 0 {
		return fmt.Errorf("%w: sensors_set names sensors not built in: %s",
			ErrInvalidBoard, strings.Join((b.SensorsSetMask&^b.SensorMask).Names(), ","))
	}

	return b.resolveSPI()
}

func (b *Board) resolveSPI() error {
	s := &b.SPI
	if s.Instance == "" {
		s.Instance = "spi2"
	}
	v, err := spibus.ParseVariant(s.Variant)
	if err != nil {
		return err
	}
	b.variant = v
	if s.Mode != nil && (*s.Mode < 0 || *s.Mode > 3) {
		return fmt.Errorf("%w: spi mode must be 0..3", ErrInvalidBoard)
	}
	if s.PCLKMHz < 0 || s.MaxSCKKHz < 0 {
		return fmt.Errorf("%w: negative clock", ErrInvalidBoard)
	}

	def := spibus.DefaultPins()
	parse := func(name, s string, dst *gpio.Pin, fallback gpio.Pin) error {
		if s == "" {
			*dst = fallback
			return nil
		}
		p, err := gpio.ParsePin(s)
		if err != nil {
			return fmt.Errorf("spi pin %s %q: %w", name, s, err)
		}
		*dst = p
		return nil
	}
	if err := parse("mosi", s.Pins.MOSI, &b.pins.MOSI, def.MOSI); err != nil {
		return err
	}
	if err := parse("miso", s.Pins.MISO, &b.pins.MISO, def.MISO); err != nil {
		return err
	}
	if err := parse("sck", s.Pins.SCK, &b.pins.SCK, def.SCK); err != nil {
		return err
	}
	if err := parse("nss", s.Pins.NSS, &b.pins.NSS, def.NSS); err != nil {
		return err
	}
	used := map[gpio.Pin]bool{}
	for _, p := range []gpio.Pin{b.pins.MOSI, b.pins.MISO, b.pins.SCK, b.pins.NSS} {
		if used[p] {
			return fmt.Errorf("%w: spi pin %s assigned twice", ErrInvalidBoard, p)
		}
		used[p] = true
	}
	for _, led := range b.LEDs {
		if used[led] {
			return fmt.Errorf("%w: led pin %s clashes with spi", ErrInvalidBoard, led)
		}
	}
	return nil
}

// SPIPins returns the resolved SPI pin assignment.
func (b *Board) SPIPins() spibus.Pins { return b.pins }

// BusConfig builds the driver configuration for the board's SPI bus.
func (b *Board) BusConfig(log logr.Logger) spibus.Config {
	cfg := spibus.DefaultConfig()
	cfg.Name = b.SPI.Instance
	cfg.Variant = b.variant
	if b.SPI.PCLKMHz > 0 {
		cfg.PeripheralClock = physic.Frequency(b.SPI.PCLKMHz) * physic.MegaHertz
	}
	if b.SPI.MaxSCKKHz > 0 {
		cfg.Prescaler = spibus.PrescalerFor(cfg.PeripheralClock,
			physic.Frequency(b.SPI.MaxSCKKHz)*physic.KiloHertz)
	}
	if b.SPI.Mode != nil {
		cfg.Mode = spi.Mode(*b.SPI.Mode)
	}
	cfg.LSBFirst = b.SPI.LSBFirst
	if b.SPI.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(b.SPI.TimeoutMs) * time.Millisecond
	}
	cfg.Logger = log
	return cfg
}

// HeartbeatInterval returns the board's heartbeat period.
func (b *Board) HeartbeatInterval() time.Duration { return b.Heartbeat.Interval() }

// Interval returns the period, 5s when unset, clamped to 1s..1h.
func (h HeartbeatConfig) Interval() time.Duration {
	s := h.IntervalS
	if s == 0 {
		s = 5
	}
	return time.Duration(mathx.Clamp(s, 1, 3600)) * time.Second
}
