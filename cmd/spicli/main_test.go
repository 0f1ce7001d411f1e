package main

import (
	"bytes"
	"strings"
	"testing"
)

func runApp(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	if err := app.Run(append([]string{"spicli"}, args...)); err != nil {
		t.Fatalf("Run(%q): %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestApp_Boards(t *testing.T) {
	got := runApp(t, "boards")
	if got != "f3bench\nolimexino\nolimexino_leds\n" {
		t.Fatalf("boards = %q", got)
	}
}

func TestApp_OneShotCommand(t *testing.T) {
	got := runApp(t, "spi", "id")
	if !strings.HasSuffix(got, "jedec EF4018 W25Q128 16777216 bytes\r\n") {
		t.Fatalf("output = %q", got)
	}
}

func TestApp_DeviceOverride(t *testing.T) {
	got := runApp(t, "--debug", "--device", "jedec:C22015", "spi", "id")
	want := "init: probe failed\r\njedec C22015 MX25L1606 2097152 bytes\r\n"
	if got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestNewLogger(t *testing.T) {
	if newLogger(false).Enabled() {
		t.Fatalf("quiet logger should discard")
	}
	if !newLogger(true).V(1).Enabled() {
		t.Fatalf("debug logger should be enabled at V(1)")
	}
}
