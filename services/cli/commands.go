package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spibus-go/drivers/spibus"
	"spibus-go/x/conv"
)

func (s *Shell) cmdHelp([]string) error {
	s.printf("Available commands:\r\n")
	for _, c := range commands {
		s.printf("%s\t%s\r\n", c.name, c.param)
	}
	return nil
}

func (s *Shell) cmdExit([]string) error {
	s.printf("Leaving CLI mode\r\n")
	s.done = true
	return nil
}

func (s *Shell) cmdVersion([]string) error {
	s.printf("spibus CLI version %s\r\n", s.version)
	return nil
}

func (s *Shell) cmdBoard([]string) error {
	b := s.board
	p := b.SPIPins()
	s.printf("board %s, %s on %s\r\n", b.Name, b.SPI.Instance, s.bus.Config().Variant)
	s.printf("pins: MOSI %s MISO %s SCK %s NSS %s\r\n", p.MOSI, p.MISO, p.SCK, p.NSS)
	if len(b.Options) > 0 {
		s.printf("options: %s\r\n", strings.Join(b.Options, " "))
	}
	for i, led := range b.LEDs {
		s.printf("LED%d: %s\r\n", i, led)
	}
	return nil
}

func (s *Shell) cmdStatus([]string) error {
	s.printf("System Uptime: %d seconds\r\n", int(time.Since(s.started).Seconds()))
	s.printf("CPU %dMHz, detected sensors: ", s.board.CoreClockMHz)
	for _, n := range s.board.SensorsSetMask.Names() {
		s.printf("%s ", n)
	}
	s.printf("\r\n")

	st := s.bus.Settings()
	state := "not initialised"
	switch {
	case !st.Enabled:
	case !s.probed:
		state = "enabled"
	case s.present:
		state = "ready"
	default:
		state = "no device"
	}
	s.printf("SPI: %s %s, %s %s mode%d %s-first\r\n",
		s.bus, state, st.Prescaler, st.Frequency, int(st.Mode), bitOrder(st.LSBFirst))
	return nil
}

func bitOrder(lsb bool) string {
	if lsb {
		return "lsb"
	}
	return "msb"
}

func (s *Shell) cmdSPI(args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch strings.ToLower(args[0]) {
	case "init":
		s.present, s.probed = s.bus.Init(), true
		s.printf("init: probe %s\r\n", okFailed(s.present))
	case "probe":
		s.present, s.probed = s.bus.Probe(), true
		s.printf("probe: %s\r\n", okFailed(s.present))
	case "id":
		id, err := s.bus.ReadID(s.ctx)
		if err != nil {
			return err
		}
		s.printf("jedec %s", id)
		if info, ok := spibus.Describe(id); ok {
			s.printf(" %s %d bytes", info.Name, info.Size)
		} else if sz := id.Size(); sz > 0 {
			s.printf(" %d bytes", sz)
		}
		s.printf("\r\n")
	case "select":
		if len(args) != 2 {
			return ErrUsage
		}
		switch strings.ToLower(args[1]) {
		case "on", "1":
			s.held = true
		case "off", "0":
			s.held = false
		default:
			return ErrUsage
		}
		s.bus.Select(s.held)
	case "xfer":
		return s.xfer(args[1:])
	default:
		return ErrUsage
	}
	return nil
}

func okFailed(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// maxXfer caps one xfer, pads included.
const maxXfer = 256

// xfer clocks out the hex bytes, then -r extra 0xFF pads, and prints what
// came back. It brackets with chip select unless "spi select on" holds it.
func (s *Shell) xfer(args []string) error {
	extra := 0
	if len(args) >= 2 && args[0] == "-r" {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 || n > maxXfer {
			return ErrUsage
		}
		extra = n
		args = args[2:]
	}
	if len(args)+extra > maxXfer {
		return fmt.Errorf("%w: more than %d bytes", ErrUsage, maxXfer)
	}
	tx := make([]byte, 0, len(args)+extra)
	for _, a := range args {
		v, ok := conv.ParseHexByte(a)
		if !ok {
			return fmt.Errorf("%w: bad byte %q", ErrUsage, a)
		}
		tx = append(tx, v)
	}
	for i := 0; i < extra; i++ {
		tx = append(tx, spibus.PadByte)
	}
	if len(tx) == 0 {
		return ErrUsage
	}
	rx := make([]byte, len(tx))
	if !s.held {
		s.bus.Select(true)
	}
	err := s.bus.TransferContext(s.ctx, tx, rx, len(tx))
	if !s.held {
		s.bus.Select(false)
	}
	if err != nil {
		return err
	}
	s.printf("%s\r\n", conv.AppendHex(nil, rx, ' '))
	return nil
}
