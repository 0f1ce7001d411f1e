// Package config holds the embedded board descriptions and the service that
// publishes the active board on the bus at startup.
package config

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	"spibus-go/bus"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for the board name
)

// Topics the service publishes, retained.
var (
	TopicBoard     = bus.T(configPrefix, "board")
	TopicSPI       = bus.T(configPrefix, "spi")
	TopicHeartbeat = bus.T(configPrefix, "heartbeat")
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	log  logr.Logger
}

func NewConfigService(log logr.Logger) *ConfigService {
	return &ConfigService{Name: serviceName, log: log.WithName(serviceName)}
}

// publishConfig loads the board named in ctx and publishes its sections as
// retained messages.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) (*Board, error) {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return nil, errors.New("missing device ID in context")
	}
	b, err := Load(device)
	if err != nil {
		return nil, err
	}
	conn.Publish(conn.NewMessage(TopicBoard, b, true))
	conn.Publish(conn.NewMessage(TopicSPI, b.SPI, true))
	conn.Publish(conn.NewMessage(TopicHeartbeat, b.Heartbeat, true))
	return b, nil
}

// Start publishes the board synchronously so later services find it
// retained, and returns it.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) (*Board, error) {
	b, err := s.publishConfig(ctx, conn)
	if err != nil {
		s.log.Error(err, "config publish failed")
		return nil, err
	}
	s.log.Info("board loaded", "board", b.Name, "variant", b.SPI.Variant, "leds", len(b.LEDs))
	return b, nil
}
