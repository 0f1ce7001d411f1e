// Command spi-selftest checks the SPI stack on a board: the raw driver
// first, then the owner over the pub/sub bus. LED0 stays lit when every
// check passes and blinks fast otherwise.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"spibus-go/bus"
	"spibus-go/drivers/spibus"
	"spibus-go/platform"
	"spibus-go/services/config"
	"spibus-go/services/spiowner"
	"spibus-go/types"
)

const (
	board       = "olimexino"
	waitTimeout = 500 * time.Millisecond
)

var errCheck = errors.New("check failed")

type check struct {
	name string
	fn   func(*rig) error
}

type rig struct {
	log   logr.Logger
	spi   *spibus.Bus
	conn  *bus.Connection
	owner *spiowner.Owner
}

func failf(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errCheck}, a...)...)
}

// --- raw driver ---------------------------------------------------------------

func checkInit(r *rig) error {
	if !r.spi.Init() {
		return failf("probe after init did not see a Winbond part")
	}
	st := r.spi.Settings()
	if !st.Enabled || !st.Master || !st.SoftwareNSS || !st.FullDuplex || st.FrameBits != 8 {
		return failf("unexpected settings %+v", st)
	}
	return nil
}

func checkProbeRepeatable(r *rig) error {
	for i := 0; i < 3; i++ {
		if !r.spi.Probe() {
			return failf("probe %d failed", i)
		}
	}
	return nil
}

func checkReadID(r *rig) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	id, err := r.spi.ReadID(ctx)
	if err != nil {
		return err
	}
	info, ok := spibus.Describe(id)
	r.log.Info("jedec", "id", id.String(), "known", ok, "name", info.Name)
	if id.Manufacturer != spibus.ManufacturerWinbond {
		return failf("manufacturer %02X", id.Manufacturer)
	}
	return nil
}

func checkShortBuffer(r *rig) error {
	if r.spi.Transfer(make([]byte, 1), nil, 2) {
		return failf("transfer with a short buffer reported success")
	}
	return nil
}

// --- owner over the bus ---------------------------------------------------------

func checkOwnerReady(r *rig) error {
	sub := r.conn.Subscribe(spiowner.StateTopic(r.spi.String()))
	defer r.conn.Unsubscribe(sub)
	deadline := time.After(waitTimeout)
	for {
		select {
		case m := <-sub.Channel():
			st, ok := m.Payload.(types.SPIState)
			if ok && st.Level == types.SPIReady {
				return nil
			}
		case <-deadline:
			return failf("no ready state on %v", spiowner.StateTopic(r.spi.String()))
		}
	}
}

func checkXferRequest(r *rig) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	req := r.conn.NewMessage(spiowner.ControlTopic(r.spi.String(), "xfer"),
		types.SPIXfer{Tx: []byte{spibus.CmdReadID}, RxLen: 3}, false)
	reply, err := r.conn.RequestWait(ctx, req)
	if err != nil {
		return err
	}
	rep, ok := reply.Payload.(types.SPIXferReply)
	if !ok || !rep.OK {
		return failf("xfer reply %+v", reply.Payload)
	}
	if len(rep.Rx) != 3 || rep.Rx[0] != spibus.ManufacturerWinbond {
		return failf("xfer rx % X", rep.Rx)
	}
	return nil
}

func checkDoMatchesReadID(r *rig) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	a, err := r.owner.Do(ctx, []byte{spibus.CmdReadID}, 3)
	if err != nil {
		return err
	}
	b, err := r.owner.Do(ctx, []byte{spibus.CmdReadID}, 3)
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return failf("id changed between reads: % X vs % X", a, b)
	}
	return nil
}

func checkInvalidXfer(r *rig) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if _, err := r.owner.Do(ctx, nil, 0); err == nil {
		return failf("empty transfer was accepted")
	}
	return nil
}

// --- main -----------------------------------------------------------------------

func main() {
	// Give the USB CDC time to enumerate so logs show up reliably.
	time.Sleep(250 * time.Millisecond)
	log := funcr.New(func(prefix, args string) { println(prefix, args) }, funcr.Options{})

	brd, err := config.Load(board)
	if err != nil {
		halt(err)
	}
	p, err := platform.Open(brd)
	if err != nil {
		halt(err)
	}
	p.InitLEDs()
	p.SetLED(0, true) // running

	b := bus.NewBus(4)
	r := &rig{log: log, spi: p.NewBus(log), conn: b.NewConnection("selftest")}

	driverChecks := []check{
		{"init", checkInit},
		{"probe_repeatable", checkProbeRepeatable},
		{"read_id", checkReadID},
		{"short_buffer", checkShortBuffer},
	}
	ownerChecks := []check{
		{"owner_ready", checkOwnerReady},
		{"xfer_request", checkXferRequest},
		{"do_matches", checkDoMatchesReadID},
		{"invalid_xfer", checkInvalidXfer},
	}

	log.Info("spi self-test starting", "board", brd.Name)
	passed, failed := run(r, driverChecks)

	// The owner takes the bus from here on.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.owner = spiowner.New(r.spi, b.NewConnection("spi"), spiowner.Config{Logger: log, HealthInterval: -1})
	r.owner.Start(ctx)
	p2, f2 := run(r, ownerChecks)
	passed, failed = passed+p2, failed+f2

	log.Info("spi self-test done", "passed", passed, "failed", failed)

	// LED: solid on if all passed, otherwise fast blink forever.
	on := true
	for {
		p.SetLED(0, on)
		time.Sleep(250 * time.Millisecond)
		if failed > 0 {
			on = !on
		}
	}
}

func run(r *rig, checks []check) (passed, failed int) {
	for _, c := range checks {
		if err := c.fn(r); err != nil {
			r.log.Error(err, "FAIL", "check", c.name)
			failed++
		} else {
			r.log.Info("PASS", "check", c.name)
			passed++
		}
		// tiny pause between checks to keep timings sane on MCU
		time.Sleep(10 * time.Millisecond)
	}
	return passed, failed
}

func halt(err error) {
	for {
		println("fatal:", err.Error())
		time.Sleep(5 * time.Second)
	}
}
