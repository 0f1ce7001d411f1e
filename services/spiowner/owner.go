// Package spiowner runs one SPI bus on a dedicated goroutine. Every
// hardware access happens there, so callers on the pub/sub bus and
// in-process callers are serialised without sharing the handle.
//
// Topics, with <id> the bus name:
//
//	hal/spi/<id>/state          retained types.SPIState
//	hal/spi/<id>/control/xfer   types.SPIXfer -> types.SPIXferReply
//	hal/spi/<id>/control/probe  re-identify, reply types.SPIState
//	hal/spi/<id>/control/init   re-run Init, reply types.SPIState
package spiowner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/physic"

	"spibus-go/bus"
	"spibus-go/drivers/spibus"
	"spibus-go/errcode"
	"spibus-go/types"
	"spibus-go/x/conv"
	"spibus-go/x/timex"
)

type Config struct {
	// ID names the bus in topics. Default: the bus name.
	ID string
	// HealthInterval is the re-probe period. Zero means 30s; negative
	// disables the health check.
	HealthInterval time.Duration
	// XferTimeout bounds a transfer that does not carry its own timeout.
	XferTimeout time.Duration
	// MaxXfer caps tx+rx bytes per request.
	MaxXfer int
	// QueueSize is the in-process request queue depth.
	QueueSize int
	Logger    logr.Logger
}

type request struct {
	ctx   context.Context
	x     types.SPIXfer
	reply chan result
}

type result struct {
	rx  []byte
	err error
}

type Owner struct {
	b    *spibus.Bus
	conn *bus.Connection
	cfg  Config
	log  logr.Logger
	reqQ chan request

	topicState bus.Topic
	subXfer    *bus.Subscription
	subProbe   *bus.Subscription
	subInit    *bus.Subscription

	mu    sync.Mutex
	state types.SPIState
}

func New(b *spibus.Bus, conn *bus.Connection, cfg Config) *Owner {
	if cfg.ID == "" {
		cfg.ID = b.String()
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.XferTimeout <= 0 {
		cfg.XferTimeout = 100 * time.Millisecond
	}
	if cfg.MaxXfer <= 0 {
		cfg.MaxXfer = 256
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	return &Owner{
		b:          b,
		conn:       conn,
		cfg:        cfg,
		log:        cfg.Logger.WithName("spiowner").WithValues("bus", cfg.ID),
		reqQ:       make(chan request, cfg.QueueSize),
		topicState: StateTopic(cfg.ID),
		state:      types.SPIState{Level: types.SPIIdle, Bus: cfg.ID},
	}
}

// StateTopic is where the bus state is retained.
func StateTopic(id string) bus.Topic { return bus.T("hal", "spi", id, "state") }

// ControlTopic addresses a control verb ("xfer", "probe", "init").
func ControlTopic(id, verb string) bus.Topic { return bus.T("hal", "spi", id, "control", verb) }

// State returns the last published state.
func (o *Owner) State() types.SPIState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start subscribes to the control topics and launches the worker, which
// runs Init before serving anything.
func (o *Owner) Start(ctx context.Context) {
	o.subXfer = o.conn.Subscribe(ControlTopic(o.cfg.ID, "xfer"))
	o.subProbe = o.conn.Subscribe(ControlTopic(o.cfg.ID, "probe"))
	o.subInit = o.conn.Subscribe(ControlTopic(o.cfg.ID, "init"))
	go o.run(ctx)
}

// Do clocks out tx then reads rxLen bytes, inside one chip-select
// bracket.
func (o *Owner) Do(ctx context.Context, tx []byte, rxLen int) ([]byte, error) {
	return o.Exec(ctx, types.SPIXfer{Tx: tx, RxLen: rxLen})
}

// Exec runs x on the worker. It fails fast with errcode.Busy when the
// queue is full.
func (o *Owner) Exec(ctx context.Context, x types.SPIXfer) ([]byte, error) {
	r := request{ctx: ctx, x: x, reply: make(chan result, 1)}
	select {
	case o.reqQ <- r:
	default:
		return nil, errcode.Busy
	}
	select {
	case res := <-r.reply:
		return res.rx, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Owner) run(ctx context.Context) {
	defer func() {
		o.conn.Unsubscribe(o.subXfer)
		o.conn.Unsubscribe(o.subProbe)
		o.conn.Unsubscribe(o.subInit)
	}()

	o.initBus(ctx)

	var health <-chan time.Time
	var timer *time.Timer
	if o.cfg.HealthInterval > 0 {
		timer = time.NewTimer(o.cfg.HealthInterval)
		defer timer.Stop()
		health = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			st := o.State()
			st.Level = types.SPIStopped
			o.publish(st)
			o.log.Info("owner stopped")
			return

		case r := <-o.reqQ:
			if r.ctx.Err() != nil {
				r.reply <- result{err: r.ctx.Err()}
				continue
			}
			rx, err := o.exec(r.ctx, r.x)
			r.reply <- result{rx: rx, err: err}

		case m, ok := <-o.subXfer.Channel():
			if !ok {
				return
			}
			o.serveXfer(ctx, m)

		case m, ok := <-o.subProbe.Channel():
			if !ok {
				return
			}
			o.refresh(ctx)
			_ = o.conn.Reply(m, o.State(), false)

		case m, ok := <-o.subInit.Channel():
			if !ok {
				return
			}
			o.initBus(ctx)
			_ = o.conn.Reply(m, o.State(), false)

		case <-health:
			o.refresh(ctx)
			timex.ResetTimer(timer, o.cfg.HealthInterval)
		}
	}
}

func (o *Owner) serveXfer(ctx context.Context, m *bus.Message) {
	var x types.SPIXfer
	if err := conv.DecodeJSON(m.Payload, &x); err != nil {
		_ = o.conn.Reply(m, types.SPIXferReply{Error: string(errcode.InvalidPayload)}, false)
		return
	}
	rx, err := o.exec(ctx, x)
	if err != nil {
		_ = o.conn.Reply(m, types.SPIXferReply{Error: string(errcode.MapDriverErr(err))}, false)
		return
	}
	_ = o.conn.Reply(m, types.SPIXferReply{OK: true, Rx: rx}, false)
}

// exec performs one bracketed exchange on the worker goroutine.
func (o *Owner) exec(ctx context.Context, x types.SPIXfer) ([]byte, error) {
	n := len(x.Tx)
	if n > o.cfg.MaxXfer || x.RxLen < 0 || x.RxLen > o.cfg.MaxXfer-n || n+x.RxLen == 0 {
		return nil, errcode.InvalidParams
	}
	ctx, cancel := context.WithTimeout(ctx, timex.FromMs(x.TimeoutMs, o.cfg.XferTimeout))
	defer cancel()

	var rx []byte
	if x.Duplex {
		rx = make([]byte, n+x.RxLen)
	} else {
		rx = make([]byte, x.RxLen)
	}

	o.b.Select(true)
	var err error
	if n > 0 {
		var in []byte
		if x.Duplex {
			in = rx[:n]
		}
		err = o.b.TransferContext(ctx, x.Tx, in, n)
	}
	if err == nil && x.RxLen > 0 {
		err = o.b.TransferContext(ctx, nil, rx[len(rx)-x.RxLen:], x.RxLen)
	}
	o.b.Select(false)

	if err != nil {
		o.log.Error(err, "transfer failed", "tx", n, "rx", x.RxLen)
		code := errcode.MapDriverErr(err)
		st := o.State()
		st.Level = types.SPIDegraded
		st.Error = string(code)
		o.publish(st)
		return nil, errcode.Wrap(code, "xfer", err)
	}
	o.log.V(2).Info("transfer", "tx", n, "rx", x.RxLen)
	return rx, nil
}

func (o *Owner) initBus(ctx context.Context) {
	ok := o.b.Init()
	o.log.Info("bus initialised", "probe", ok)
	o.refresh(ctx)
}

// refresh re-identifies the device and publishes the state if it changed.
// The ready criterion is the same as Probe's.
func (o *Owner) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.XferTimeout)
	defer cancel()

	s := o.b.Settings()
	st := types.SPIState{
		Level:   types.SPIDegraded,
		Bus:     o.cfg.ID,
		Variant: o.b.Config().Variant.String(),
		Mode:    int(s.Mode),
		SCKHz:   int64(s.Frequency / physic.Hertz),
	}
	id, err := o.b.ReadID(ctx)
	switch {
	case err == nil:
		st.JEDEC = id.String()
		if info, ok := spibus.Describe(id); ok {
			st.Device = info.Name
			st.SizeBytes = info.Size
		} else {
			st.SizeBytes = id.Size()
		}
		if id.Manufacturer == spibus.ManufacturerWinbond {
			st.Level = types.SPIReady
		} else {
			st.Error = string(errcode.ProbeFailed)
		}
	case errors.Is(err, spibus.ErrNoDevice):
		st.Error = string(errcode.ProbeFailed)
	default:
		st.Error = string(errcode.MapDriverErr(err))
	}
	o.publishIfChanged(st)
}

func (o *Owner) publishIfChanged(st types.SPIState) {
	prev := o.State()
	prev.TS = 0
	if prev == st {
		return
	}
	if prev.Level != st.Level {
		o.log.Info("bus state", "level", string(st.Level), "jedec", st.JEDEC, "error", st.Error)
	}
	o.publish(st)
}

func (o *Owner) publish(st types.SPIState) {
	st.TS = timex.NowMs()
	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
	o.conn.Publish(o.conn.NewMessage(o.topicState, st, true))
}
