// Package heartbeat logs a periodic liveness line with uptime and the state
// of every SPI bus, and toggles the first board LED as a blink.
package heartbeat

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"spibus-go/bus"
	"spibus-go/services/config"
	"spibus-go/types"
)

var topicSPIStates = bus.T("hal", "spi", "+", "state")

// LED is the optional blink output.
type LED interface {
	SetLED(i int, on bool)
}

type Service struct {
	Interval time.Duration
	LED      LED
	Log      logr.Logger

	// Beat, when set, is called with each heartbeat's summary.
	Beat func(Beat)

	states map[string]types.SPIState
	start  time.Time
	on     bool
}

// Beat is one heartbeat.
type Beat struct {
	Uptime time.Duration
	Buses  []types.SPIState // sorted by bus name
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(config.TopicHeartbeat)
	defer conn.Unsubscribe(cfgSub)
	stSub := conn.Subscribe(topicSPIStates)
	defer conn.Unsubscribe(stSub)

	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("heartbeat service stopping")
			return
		case <-tick.C:
			s.beat()
		case msg := <-stSub.Channel():
			if st, ok := msg.Payload.(types.SPIState); ok {
				s.states[st.Bus] = st
			}
		case msg := <-cfgSub.Channel():
			hb, ok := msg.Payload.(config.HeartbeatConfig)
			if !ok {
				continue
			}
			if d := hb.Interval(); d != interval {
				interval = d
				tick.Reset(interval)
				s.Log.Info("heartbeat interval set", "interval", d.String())
			}
		}
	}
}

func (s *Service) beat() {
	b := Beat{Uptime: time.Since(s.start).Truncate(time.Second)}
	for _, st := range s.states {
		b.Buses = append(b.Buses, st)
	}
	sort.Slice(b.Buses, func(i, j int) bool { return b.Buses[i].Bus < b.Buses[j].Bus })

	kv := []any{"uptime", b.Uptime.String()}
	for _, st := range b.Buses {
		kv = append(kv, st.Bus, string(st.Level))
	}
	s.Log.Info("heartbeat", kv...)

	if s.LED != nil {
		s.on = !s.on
		s.LED.SetLED(0, s.on)
	}
	if s.Beat != nil {
		s.Beat(b)
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Log.GetSink() == nil {
		s.Log = logr.Discard()
	}
	s.Log = s.Log.WithName("heartbeat")
	s.states = map[string]types.SPIState{}
	s.start = time.Now()
	go s.serviceLoop(ctx, conn)
	return nil
}
