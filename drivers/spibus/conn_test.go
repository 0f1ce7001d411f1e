package spibus_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/spi"

	"spibus-go/drivers/spibus"
	"spibus-go/drivers/spibus/sim"
)

func TestConn_TxAndTransfer(t *testing.T) {
	r := newRig(t, sim.Loopback{})
	r.bus.Init()
	c := r.bus.Conn()
	writes := r.io.Writes()

	w := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	rd := make([]byte, len(w))
	if err := c.Tx(w, rd); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if diff := cmp.Diff(w, rd); diff != "" {
		t.Fatalf("loopback (-want +got):\n%s", diff)
	}
	if err := c.Tx(nil, rd); err != nil {
		t.Fatalf("Tx(nil, r): %v", err)
	}
	if diff := cmp.Diff([]byte{0xFF, 0xFF, 0xFF, 0xFF}, rd); diff != "" {
		t.Fatalf("pad bytes (-want +got):\n%s", diff)
	}
	if err := c.Tx(w, make([]byte, 2)); !errors.Is(err, spibus.ErrShortBuffer) {
		t.Fatalf("mismatched lengths: want ErrShortBuffer, got %v", err)
	}
	got, err := c.Transfer(0x5A)
	if err != nil || got != 0x5A {
		t.Fatalf("Transfer: got %#02x, %v", got, err)
	}
	if r.io.Writes() != writes {
		t.Fatalf("drivers.SPI adaptor must not touch chip select")
	}
}

func TestPeriphConn_MismatchedBuffers(t *testing.T) {
	r := newRig(t, sim.Loopback{})
	r.bus.Init()
	r.regs.ClearLog()

	err := r.bus.PeriphConn().Tx([]byte{1, 2, 3}, make([]byte, 1))
	if !errors.Is(err, spibus.ErrShortBuffer) {
		t.Fatalf("want ErrShortBuffer, got %v", err)
	}
	if len(r.regs.Sent()) != 0 {
		t.Fatalf("nothing should be clocked, sent % X", r.regs.Sent())
	}
	if r.regs.Selected() {
		t.Fatalf("chip select left asserted")
	}
}

func TestPeriphConn_RecordedReadID(t *testing.T) {
	r := newRig(t, sim.W25Q128())
	r.bus.Init()
	r.regs.ClearLog()

	pc := r.bus.PeriphConn()
	if pc.Duplex() != conn.Full {
		t.Fatalf("duplex: got %v", pc.Duplex())
	}
	if pc.String() != "spi2" {
		t.Fatalf("String: got %q", pc.String())
	}

	rec := &conntest.Record{Conn: pc}
	resp := make([]byte, 4)
	if err := rec.Tx([]byte{0x9F, 0, 0, 0}, resp); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	want := []conntest.IO{{W: []byte{0x9F, 0, 0, 0}, R: []byte{0xFF, 0xEF, 0x40, 0x18}}}
	if diff := cmp.Diff(want, rec.Ops); diff != "" {
		t.Fatalf("recorded ops (-want +got):\n%s", diff)
	}
	if n := len(r.regs.Frames()); n != 1 {
		t.Fatalf("want one chip-select frame, got %d", n)
	}
	if r.regs.Selected() {
		t.Fatalf("Tx left the device selected")
	}
}

func TestPeriphConn_TxPacketsKeepCS(t *testing.T) {
	r := newRig(t, sim.W25Q128())
	r.bus.Init()
	r.regs.ClearLog()

	id := make([]byte, 3)
	err := r.bus.PeriphConn().TxPackets([]spi.Packet{
		{W: []byte{0x9F}, KeepCS: true},
		{R: id},
	})
	if err != nil {
		t.Fatalf("TxPackets: %v", err)
	}
	if diff := cmp.Diff([]byte{0xEF, 0x40, 0x18}, id); diff != "" {
		t.Fatalf("id (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{0x9F, 0xFF, 0xFF, 0xFF}}, r.regs.Frames()); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}

	// Without KeepCS the command and the read land in separate selections
	// and the flash never sees a read-ID for the second one.
	r.regs.ClearLog()
	err = r.bus.PeriphConn().TxPackets([]spi.Packet{
		{W: []byte{0x9F}},
		{R: id},
	})
	if err != nil {
		t.Fatalf("TxPackets: %v", err)
	}
	if n := len(r.regs.Frames()); n != 2 {
		t.Fatalf("want two frames, got %d", n)
	}
	if id[0] == 0xEF {
		t.Fatalf("read without KeepCS should not return the ID")
	}
}

func TestPeriphConn_TxPacketsKeepCSOnLastPacketReleases(t *testing.T) {
	r := newRig(t, sim.W25Q128())
	r.bus.Init()
	err := r.bus.PeriphConn().TxPackets([]spi.Packet{{W: []byte{0x05, 0x00}, KeepCS: true}})
	if err != nil {
		t.Fatalf("TxPackets: %v", err)
	}
	if r.regs.Selected() {
		t.Fatalf("chip select must be released on return")
	}
}

func TestPeriphConn_RejectsWideWords(t *testing.T) {
	r := newRig(t, sim.Loopback{})
	r.bus.Init()
	r.regs.ClearLog()

	err := r.bus.PeriphConn().TxPackets([]spi.Packet{
		{W: []byte{1, 2}},
		{W: []byte{3, 4}, BitsPerWord: 16},
	})
	if !errors.Is(err, spibus.ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
	if len(r.regs.Sent()) != 0 {
		t.Fatalf("nothing should be sent when a packet is rejected")
	}
}
