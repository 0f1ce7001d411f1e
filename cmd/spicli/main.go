// Command spicli drives a simulated board's SPI bus from a terminal using
// the same shell the firmware exposes.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/urfave/cli/v2"

	"spibus-go/platform"
	shell "spibus-go/services/cli"
	"spibus-go/services/config"
)

const (
	flagBoard  = "board"
	flagDevice = "device"
	flagDebug  = "debug"

	version = "0.1.0"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "spicli:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "spicli",
		Usage:     "poke a board's SPI bus",
		ArgsUsage: "[command line]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagBoard,
				Aliases: []string{"b"},
				Value:   "olimexino",
				Usage:   "board `NAME` from the embedded set",
			},
			&cli.StringFlag{
				Name:  flagDevice,
				Usage: "override the simulated slave: none, w25q128, loopback or jedec:MMTTCC",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log driver activity to stderr",
			},
		},
		Action: runShell,
		Commands: []*cli.Command{
			{
				Name:  "boards",
				Usage: "list the embedded boards",
				Action: func(c *cli.Context) error {
					for _, name := range config.Boards() {
						fmt.Fprintln(c.App.Writer, name)
					}
					return nil
				},
			},
		},
	}
}

func newLogger(debug bool) logr.Logger {
	if !debug {
		return logr.Discard()
	}
	return funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: 1})
}

// runShell executes the arguments as one command line when given, else
// reads commands from stdin.
func runShell(c *cli.Context) error {
	b, err := config.Load(c.String(flagBoard))
	if err != nil {
		return err
	}
	if c.IsSet(flagDevice) {
		b.SPI.Device = c.String(flagDevice)
	}
	h, err := platform.NewHost(b)
	if err != nil {
		return err
	}
	log := newLogger(c.Bool(flagDebug)).WithName("spicli")
	h.InitLEDs()
	sh := shell.New(c.App.Writer, b, h.NewBus(log), version)

	if c.Args().Present() {
		if err := sh.Exec("spi init"); err != nil {
			return err
		}
		return sh.Exec(strings.Join(c.Args().Slice(), " "))
	}
	return sh.Run(c.Context, os.Stdin)
}
