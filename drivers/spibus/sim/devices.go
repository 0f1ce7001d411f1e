package sim

import "periph.io/x/conn/v3/spi"

// Flash commands understood by Flash.
const (
	cmdReadID     = 0x9F
	cmdReadStatus = 0x05
	cmdRead       = 0x03
)

// Flash models a SPI NOR flash: Read-Identification, Read-Status-Register
// and Read-Data. It samples in modes 0 and 3 only.
type Flash struct {
	ID     [3]byte
	Status byte
	Mem    []byte

	selected bool
	cmd      int
	pos      int
	addr     uint32
}

// NewFlash returns a Flash answering id to Read-Identification.
func NewFlash(manufacturer, memType, capacity byte) *Flash {
	return &Flash{ID: [3]byte{manufacturer, memType, capacity}, cmd: -1}
}

// W25Q128 is a 16 MiB Winbond part, ID EF 40 18.
func W25Q128() *Flash { return NewFlash(0xEF, 0x40, 0x18) }

// Select implements Device. Each selection starts a new command.
func (f *Flash) Select(active bool) {
	f.selected = active
	f.cmd = -1
	f.pos = 0
	f.addr = 0
}

// Exchange implements Device.
func (f *Flash) Exchange(mosi byte) byte {
	if !f.selected {
		return Floating
	}
	if f.cmd < 0 {
		f.cmd = int(mosi)
		return 0xFF
	}
	switch f.cmd {
	case cmdReadID:
		if f.pos < len(f.ID) {
			b := f.ID[f.pos]
			f.pos++
			return b
		}
		return 0xFF
	case cmdReadStatus:
		return f.Status
	case cmdRead:
		if f.pos < 3 {
			f.addr = f.addr<<8 | uint32(mosi)
			f.pos++
			return 0xFF
		}
		if len(f.Mem) == 0 {
			return 0xFF
		}
		b := f.Mem[f.addr%uint32(len(f.Mem))]
		f.addr++
		return b
	}
	return 0xFF
}

// Accepts implements ModeAccepter.
func (f *Flash) Accepts(mode spi.Mode) bool {
	return mode == spi.Mode0 || mode == spi.Mode3
}

// Loopback ties MOSI to MISO.
type Loopback struct{}

func (Loopback) Select(bool) {}
func (Loopback) Exchange(mosi byte) byte { return mosi }

// Script answers each frame with the next byte of Replies, ignoring chip
// select, and records what it was sent. Once Replies runs out MISO floats.
type Script struct {
	Replies []byte
	Got     []byte
}

func (s *Script) Select(bool) {}

func (s *Script) Exchange(mosi byte) byte {
	i := len(s.Got)
	s.Got = append(s.Got, mosi)
	if i < len(s.Replies) {
		return s.Replies[i]
	}
	return Floating
}
