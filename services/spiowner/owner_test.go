package spiowner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"

	"spibus-go/bus"
	"spibus-go/drivers/spibus"
	"spibus-go/drivers/spibus/sim"
	"spibus-go/errcode"
	"spibus-go/gpio"
	"spibus-go/types"
)

// ---- fixture ----

type fixture struct {
	owner *Owner
	regs  *sim.Peripheral
	conn  *bus.Connection
	b     *bus.Bus
}

func start(t *testing.T, dev sim.Device, cfg Config) *fixture {
	t.Helper()
	regs := sim.New(dev)
	io := gpio.NewFake()
	pins := spibus.DefaultPins()
	sim.WireNSS(io, pins.NSS, regs)
	bcfg := spibus.DefaultConfig()
	bcfg.Logger = testr.New(t)
	sb := spibus.New(regs, io, pins, bcfg)

	b := bus.NewBus(16)
	cfg.Logger = testr.New(t)
	o := New(sb, b.NewConnection("spiowner"), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o.Start(ctx)
	return &fixture{owner: o, regs: regs, conn: b.NewConnection("test"), b: b}
}

func waitState(t *testing.T, f *fixture, want types.SPILevel) types.SPIState {
	t.Helper()
	sub := f.conn.Subscribe(StateTopic("spi2"))
	defer f.conn.Unsubscribe(sub)
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-sub.Channel():
			st := m.Payload.(types.SPIState)
			if st.Level == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %q (last %+v)", want, f.owner.State())
		}
	}
}

func requestReply(t *testing.T, f *fixture, verb string, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := f.conn.RequestWait(ctx, f.b.NewMessage(ControlTopic("spi2", verb), payload, false))
	if err != nil {
		t.Fatalf("%s request: %v", verb, err)
	}
	return reply.Payload
}

// ---- tests ----

func TestOwner_PublishesReadyState(t *testing.T) {
	f := start(t, sim.W25Q128(), Config{})
	st := waitState(t, f, types.SPIReady)

	want := types.SPIState{
		Level:     types.SPIReady,
		Bus:       "spi2",
		Variant:   "stm32f10x",
		Mode:      3,
		SCKHz:     4_500_000,
		JEDEC:     "EF4018",
		Device:    "W25Q128",
		SizeBytes: 16 << 20,
	}
	st.TS = 0
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("state (-want +got):\n%s", diff)
	}
}

func TestOwner_NoDeviceIsDegraded(t *testing.T) {
	f := start(t, nil, Config{})
	st := waitState(t, f, types.SPIDegraded)
	if st.Error != string(errcode.ProbeFailed) {
		t.Fatalf("error: got %q", st.Error)
	}
}

func TestOwner_OtherVendorIsDegraded(t *testing.T) {
	f := start(t, sim.NewFlash(0xC2, 0x20, 0x15), Config{})
	st := waitState(t, f, types.SPIDegraded)
	if st.JEDEC != "C22015" || st.Device != "MX25L1606" || st.Error != string(errcode.ProbeFailed) {
		t.Fatalf("state: %+v", st)
	}
}

func TestOwner_Do(t *testing.T) {
	f := start(t, sim.W25Q128(), Config{})
	waitState(t, f, types.SPIReady)

	rx, err := f.owner.Do(context.Background(), []byte{0x9F}, 3)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if diff := cmp.Diff([]byte{0xEF, 0x40, 0x18}, rx); diff != "" {
		t.Fatalf("rx (-want +got):\n%s", diff)
	}
	if f.regs.Selected() {
		t.Fatalf("chip select left asserted")
	}
}

func TestOwner_Duplex(t *testing.T) {
	f := start(t, sim.Loopback{}, Config{})
	waitState(t, f, types.SPIDegraded) // loopback echoes 0x9F, not a flash

	rx, err := f.owner.Exec(context.Background(), types.SPIXfer{Tx: []byte{1, 2}, RxLen: 2, Duplex: true})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 0xFF, 0xFF}, rx); diff != "" {
		t.Fatalf("rx (-want +got):\n%s", diff)
	}
}

func TestOwner_InvalidParams(t *testing.T) {
	f := start(t, sim.W25Q128(), Config{MaxXfer: 4})
	waitState(t, f, types.SPIReady)

	for _, x := range []types.SPIXfer{
		{},
		{RxLen: -1, Tx: []byte{1}},
		{Tx: []byte{1, 2, 3}, RxLen: 2},
		{Tx: []byte{1, 2, 3, 4, 5}},
		{Tx: []byte{0x9F}, RxLen: math.MaxInt},
	} {
		if _, err := f.owner.Exec(context.Background(), x); !errors.Is(err, errcode.InvalidParams) {
			t.Fatalf("%+v: want invalid_params, got %v", x, err)
		}
	}
	// The worker survived the oversized requests.
	if _, err := f.owner.Do(context.Background(), []byte{0x9F}, 3); err != nil {
		t.Fatalf("Do after rejects: %v", err)
	}
}

func TestOwner_XferOverBus(t *testing.T) {
	f := start(t, sim.W25Q128(), Config{})
	waitState(t, f, types.SPIReady)

	got := requestReply(t, f, "xfer", types.SPIXfer{Tx: []byte{0x9F}, RxLen: 3})
	want := types.SPIXferReply{OK: true, Rx: []byte{0xEF, 0x40, 0x18}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reply (-want +got):\n%s", diff)
	}

	// Raw JSON payloads are accepted too; []byte travels as base64.
	got = requestReply(t, f, "xfer", `{"tx":"nw==","rx_len":3}`)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("json reply (-want +got):\n%s", diff)
	}

	got = requestReply(t, f, "xfer", `{"tx":`)
	if r := got.(types.SPIXferReply); r.OK || r.Error != string(errcode.InvalidPayload) {
		t.Fatalf("bad payload reply: %+v", r)
	}
	got = requestReply(t, f, "xfer", types.SPIXfer{})
	if r := got.(types.SPIXferReply); r.OK || r.Error != string(errcode.InvalidParams) {
		t.Fatalf("empty xfer reply: %+v", r)
	}
}

func TestOwner_StallDegradesThenProbeRecovers(t *testing.T) {
	f := start(t, sim.W25Q128(), Config{XferTimeout: 10 * time.Millisecond})
	waitState(t, f, types.SPIReady)

	f.regs.SetStalled(true)
	_, err := f.owner.Do(context.Background(), []byte{0x05}, 1)
	if errcode.Of(err) != errcode.Timeout || !errors.Is(err, spibus.ErrTimeout) {
		t.Fatalf("want timeout wrapping the driver error, got %v", err)
	}
	st := f.owner.State()
	if st.Level != types.SPIDegraded || st.Error != string(errcode.Timeout) {
		t.Fatalf("state after stall: %+v", st)
	}

	f.regs.SetStalled(false)
	got := requestReply(t, f, "probe", nil).(types.SPIState)
	if got.Level != types.SPIReady || got.Error != "" {
		t.Fatalf("probe after recovery: %+v", got)
	}
}

func TestOwner_InitControl(t *testing.T) {
	f := start(t, nil, Config{})
	waitState(t, f, types.SPIDegraded)

	f.regs.Attach(sim.W25Q128())
	got := requestReply(t, f, "init", nil).(types.SPIState)
	if got.Level != types.SPIReady {
		t.Fatalf("init after attaching flash: %+v", got)
	}
	if f.regs.Resets() != 2 {
		t.Fatalf("init should reset the peripheral again, resets=%d", f.regs.Resets())
	}
}

func TestOwner_HealthCheckNoticesDevice(t *testing.T) {
	f := start(t, nil, Config{HealthInterval: 5 * time.Millisecond})
	waitState(t, f, types.SPIDegraded)
	f.regs.Attach(sim.W25Q128())
	waitState(t, f, types.SPIReady)
}

func TestOwner_StopPublishesStopped(t *testing.T) {
	regs := sim.New(sim.W25Q128())
	io := gpio.NewFake()
	pins := spibus.DefaultPins()
	sim.WireNSS(io, pins.NSS, regs)
	b := bus.NewBus(8)
	o := New(spibus.New(regs, io, pins), b.NewConnection("o"), Config{})
	c := b.NewConnection("t")
	sub := c.Subscribe(StateTopic("spi2"))

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	seen := map[types.SPILevel]bool{}
	deadline := time.After(time.Second)
	for !seen[types.SPIStopped] {
		select {
		case m := <-sub.Channel():
			st := m.Payload.(types.SPIState)
			seen[st.Level] = true
			if st.Level == types.SPIReady {
				cancel()
			}
		case <-deadline:
			t.Fatalf("never saw stopped; seen %v", seen)
		}
	}
	cancel()
}

func TestOwner_BusyWhenQueueFull(t *testing.T) {
	regs := sim.New(nil)
	io := gpio.NewFake()
	o := New(spibus.New(regs, io, spibus.DefaultPins()), bus.NewBus(4).NewConnection("o"), Config{QueueSize: 1})
	// Not started: the first request parks in the queue.
	o.reqQ <- request{ctx: context.Background(), reply: make(chan result, 1)}
	if _, err := o.Do(context.Background(), []byte{1}, 0); !errors.Is(err, errcode.Busy) {
		t.Fatalf("want busy, got %v", err)
	}
}

func TestOwner_CallerContextHonoured(t *testing.T) {
	regs := sim.New(nil)
	o := New(spibus.New(regs, gpio.NewFake(), spibus.DefaultPins()), bus.NewBus(4).NewConnection("o"), Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := o.Do(ctx, []byte{1}, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
