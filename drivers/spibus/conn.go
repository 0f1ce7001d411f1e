package spibus

import (
	"context"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"
)

// Conn adapts a Bus to tinygo.org/x/drivers.SPI. Like machine.SPI it does
// not touch chip select; drivers that expect to manage CS themselves can
// be handed a Conn. Transfers are bounded by Config.Timeout.
type Conn struct {
	b *Bus
}

var _ drivers.SPI = (*Conn)(nil)

// Conn returns the tinygo drivers.SPI view of b.
func (b *Bus) Conn() *Conn { return &Conn{b: b} }

// Tx exchanges len(w) bytes. Either buffer may be nil; when both are set
// they must be the same length, else Tx returns ErrShortBuffer without
// clocking anything. A nil w clocks out PadByte.
func (c *Conn) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	} else if r != nil && len(r) != len(w) {
		return ErrShortBuffer
	}
	return c.b.TransferContext(context.Background(), w, r, n)
}

// Transfer exchanges one byte.
func (c *Conn) Transfer(v byte) (byte, error) {
	return c.b.TransferByteContext(context.Background(), v)
}

// PeriphConn adapts a Bus to periph.io's spi.Conn. Each Tx is bracketed by
// chip select. TxPackets keeps CS asserted after packets marked KeepCS and
// always releases it on return.
type PeriphConn struct {
	b *Bus
}

var _ spi.Conn = (*PeriphConn)(nil)

// PeriphConn returns the periph.io spi.Conn view of b.
func (b *Bus) PeriphConn() *PeriphConn { return &PeriphConn{b: b} }

func (c *PeriphConn) String() string { return c.b.String() }

// Duplex implements conn.Conn.
func (c *PeriphConn) Duplex() conn.Duplex { return conn.Full }

// Tx implements conn.Conn. Buffers follow Conn.Tx: mismatched lengths give
// ErrShortBuffer and nothing is clocked, though CS still pulses.
func (c *PeriphConn) Tx(w, r []byte) error {
	c.b.Select(true)
	err := c.b.Conn().Tx(w, r)
	c.b.Select(false)
	return err
}

// TxPackets implements spi.Conn. Only 8-bit words are supported.
func (c *PeriphConn) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if p.BitsPerWord != 0 && p.BitsPerWord != 8 {
			return ErrUnsupported
		}
	}
	tx := c.b.Conn()
	selected := false
	defer func() {
		if selected {
			c.b.Select(false)
		}
	}()
	for _, p := range pkts {
		if !selected {
			c.b.Select(true)
			selected = true
		}
		if err := tx.Tx(p.W, p.R); err != nil {
			return err
		}
		if !p.KeepCS {
			c.b.Select(false)
			selected = false
		}
	}
	return nil
}
