// Package types holds the payloads exchanged on the pub/sub bus.
package types

// ------------------------
// SPI bus state (retained on hal/spi/<id>/state)
// ------------------------

// SPILevel is the coarse health of a bus.
type SPILevel string

const (
	SPIIdle     SPILevel = "idle"     // not yet initialised
	SPIReady    SPILevel = "ready"    // configured and the probe passed
	SPIDegraded SPILevel = "degraded" // configured, probe failed
	SPIStopped  SPILevel = "stopped"
)

type SPIState struct {
	Level     SPILevel `json:"level"`
	Bus       string   `json:"bus"`
	Variant   string   `json:"variant"`
	Mode      int      `json:"mode"`
	SCKHz     int64    `json:"sck_hz"`
	JEDEC     string   `json:"jedec,omitempty"` // "EF4018"
	Device    string   `json:"device,omitempty"`
	SizeBytes uint32   `json:"size_bytes,omitempty"`
	Error     string   `json:"error,omitempty"` // errcode
	TS        int64    `json:"ts_ms"`
}

// ------------------------
// Transfers (hal/spi/<id>/control/xfer)
// ------------------------

// SPIXfer is one chip-select bracketed exchange. Tx is clocked out first;
// RxLen more bytes are then clocked in with 0xFF padding. With Duplex set
// the bytes received during Tx are returned too.
type SPIXfer struct {
	Tx        []byte `json:"tx,omitempty"`
	RxLen     int    `json:"rx_len,omitempty"`
	Duplex    bool   `json:"duplex,omitempty"`
	TimeoutMs uint32 `json:"timeout_ms,omitempty"`
}

type SPIXferReply struct {
	OK    bool   `json:"ok"`
	Rx    []byte `json:"rx,omitempty"`
	Error string `json:"error,omitempty"`
}
