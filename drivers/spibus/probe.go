package spibus

import (
	"context"

	"spibus-go/x/conv"
)

// JEDEC Read-Identification.
const (
	CmdReadID = 0x9F

	// ManufacturerWinbond is the manufacturer byte Probe expects.
	ManufacturerWinbond = 0xEF
)

// readIDFrame is the command plus three dummy bytes; the reply carries the
// ID in bytes 1..3.
var readIDFrame = [4]byte{CmdReadID, 0x00, 0x00, 0x00}

// Probe sends a Read-Identification frame and reports whether byte 1 of the
// reply is the expected manufacturer. Init calls it as a wiring self-test:
// a wrong clock polarity or phase, a missing device or a dead MISO line all
// show up as false.
func (b *Bus) Probe() bool {
	var rx [len(readIDFrame)]byte
	b.Select(false)
	b.Select(true)
	b.Transfer(readIDFrame[:], rx[:], len(rx))
	b.Select(false)
	return rx[1] == ManufacturerWinbond
}

// JEDECID is the three-byte reply to CmdReadID.
type JEDECID struct {
	Manufacturer byte
	MemoryType   byte
	Capacity     byte
}

// Uint32 packs the ID as 0xMMTTCC.
func (id JEDECID) Uint32() uint32 {
	return uint32(id.Manufacturer)<<16 | uint32(id.MemoryType)<<8 | uint32(id.Capacity)
}

// Valid reports whether the manufacturer byte looks driven. A floating or
// shorted MISO reads as 0x00 or 0xFF.
func (id JEDECID) Valid() bool {
	return id.Manufacturer != 0x00 && id.Manufacturer != 0xFF
}

// Size returns the capacity in bytes encoded as a power of two, or 0 if the
// code is out of the usual range.
func (id JEDECID) Size() uint32 {
	if id.Capacity < 0x08 || id.Capacity > 0x1F {
		return 0
	}
	return 1 << id.Capacity
}

func (id JEDECID) String() string {
	return string(conv.AppendHex(nil, []byte{id.Manufacturer, id.MemoryType, id.Capacity}, 0))
}

// ReadID runs the Read-Identification exchange bounded by ctx and
// Config.Timeout. It returns ErrNoDevice when the manufacturer byte is not
// driven.
func (b *Bus) ReadID(ctx context.Context) (JEDECID, error) {
	var rx [len(readIDFrame)]byte
	b.Select(false)
	b.Select(true)
	err := b.TransferContext(ctx, readIDFrame[:], rx[:], len(rx))
	b.Select(false)
	if err != nil {
		return JEDECID{}, err
	}
	id := JEDECID{Manufacturer: rx[1], MemoryType: rx[2], Capacity: rx[3]}
	if !id.Valid() {
		return id, ErrNoDevice
	}
	return id, nil
}

// DeviceInfo describes a recognised part.
type DeviceInfo struct {
	Name string
	Size uint32
}
