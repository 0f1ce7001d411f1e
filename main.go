package main

import (
	"context"
	"time"

	"github.com/go-logr/logr/funcr"

	"spibus-go/bus"
	"spibus-go/platform"
	"spibus-go/services/config"
	"spibus-go/services/heartbeat"
	"spibus-go/services/spiowner"
)

const board = "olimexino"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	log := funcr.New(func(prefix, args string) { println(prefix, args) }, funcr.Options{})
	println("boot")

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, board)
	b := bus.NewBus(4)

	cfgSvc := config.NewConfigService(log)
	brd, err := cfgSvc.Start(ctx, b.NewConnection("config"))
	if err != nil {
		halt(err)
	}

	p, err := platform.Open(brd)
	if err != nil {
		halt(err)
	}
	p.InitLEDs()

	owner := spiowner.New(p.NewBus(log), b.NewConnection("spi"), spiowner.Config{Logger: log})
	owner.Start(ctx)

	hb := &heartbeat.Service{Interval: brd.HeartbeatInterval(), LED: p, Log: log}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		halt(err)
	}

	select {}
}

func halt(err error) {
	for {
		println("fatal:", err.Error())
		time.Sleep(5 * time.Second)
	}
}
