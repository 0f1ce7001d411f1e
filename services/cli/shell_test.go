package cli_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"

	"spibus-go/drivers/spibus/sim"
	"spibus-go/platform"
	"spibus-go/services/cli"
	"spibus-go/services/config"
)

type rig struct {
	sh   *cli.Shell
	out  *bytes.Buffer
	host *platform.Host
}

func newRig(t *testing.T, board string) *rig {
	t.Helper()
	b, err := config.Load(board)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h, err := platform.NewHost(b)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	out := &bytes.Buffer{}
	return &rig{
		sh:   cli.New(out, b, h.NewBus(testr.New(t)), "test"),
		out:  out,
		host: h,
	}
}

func (r *rig) exec(t *testing.T, line string) string {
	t.Helper()
	r.out.Reset()
	if err := r.sh.Exec(line); err != nil {
		t.Fatalf("Exec(%q): %v\n%s", line, err, r.out)
	}
	return r.out.String()
}

func TestHelp_ListsCommandsInOrder(t *testing.T) {
	r := newRig(t, "olimexino")
	got := r.exec(t, "help")
	lines := strings.Split(strings.TrimSuffix(got, "\r\n"), "\r\n")
	if lines[0] != "Available commands:" {
		t.Fatalf("header = %q", lines[0])
	}
	var names []string
	for _, l := range lines[1:] {
		names = append(names, strings.SplitN(l, "\t", 2)[0])
	}
	want := []string{"board", "exit", "help", "spi", "status", "version"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
}

func TestExec_UnknownCommand(t *testing.T) {
	r := newRig(t, "olimexino")
	err := r.sh.Exec("reboot now")
	if !errors.Is(err, cli.ErrUnknownCommand) {
		t.Fatalf("err = %v", err)
	}
	if got := r.out.String(); got != "ERR: Unknown command, try 'help'\r\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestExec_BlankAndCaseInsensitive(t *testing.T) {
	r := newRig(t, "olimexino")
	if got := r.exec(t, "   "); got != "" {
		t.Fatalf("blank line printed %q", got)
	}
	if got := r.exec(t, "VERSION"); got != "spibus CLI version test\r\n" {
		t.Fatalf("version = %q", got)
	}
}

func TestComplete(t *testing.T) {
	cases := []struct {
		prefix string
		want   []string
	}{
		{"s", []string{"spi", "status"}},
		{"st", []string{"status"}},
		{"E", []string{"exit"}},
		{"x", nil},
		{"", []string{"board", "exit", "help", "spi", "status", "version"}},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.want, cli.Complete(c.prefix)); diff != "" {
			t.Errorf("Complete(%q) (-want +got):\n%s", c.prefix, diff)
		}
	}
}

func TestStatus_SensorsAndBus(t *testing.T) {
	r := newRig(t, "olimexino")
	got := r.exec(t, "status")
	if !strings.Contains(got, "CPU 72MHz, detected sensors: ACC BARO MAG \r\n") {
		t.Fatalf("status missing sensor line:\n%s", got)
	}
	if !strings.Contains(got, "spi2 not initialised") {
		t.Fatalf("bus should be down before init:\n%s", got)
	}
	r.exec(t, "spi init")
	got = r.exec(t, "status")
	if !strings.Contains(got, "spi2 ready, div8") || !strings.Contains(got, "mode3 msb-first") {
		t.Fatalf("status after init:\n%s", got)
	}
}

func TestSPI_InitProbeID(t *testing.T) {
	r := newRig(t, "olimexino")
	if got := r.exec(t, "spi init"); got != "init: probe ok\r\n" {
		t.Fatalf("init = %q", got)
	}
	if got := r.exec(t, "spi probe"); got != "probe: ok\r\n" {
		t.Fatalf("probe = %q", got)
	}
	if got := r.exec(t, "spi id"); got != "jedec EF4018 W25Q128 16777216 bytes\r\n" {
		t.Fatalf("id = %q", got)
	}
}

func TestSPI_NoDevice(t *testing.T) {
	r := newRig(t, "f3bench")
	if got := r.exec(t, "spi init"); got != "init: probe failed\r\n" {
		t.Fatalf("init = %q", got)
	}
	if got := r.exec(t, "status"); !strings.Contains(got, "no device") {
		t.Fatalf("status:\n%s", got)
	}
	if err := r.sh.Exec("spi id"); err == nil {
		t.Fatalf("spi id on an empty bus should fail")
	}
}

func TestSPI_Xfer(t *testing.T) {
	r := newRig(t, "olimexino")
	r.exec(t, "spi init")
	r.host.Sim.ClearLog()

	if got := r.exec(t, "spi xfer -r 3 9F"); got != "FF EF 40 18\r\n" {
		t.Fatalf("xfer = %q", got)
	}
	want := [][]byte{{0x9F, 0xFF, 0xFF, 0xFF}}
	if diff := cmp.Diff(want, r.host.Sim.Frames()); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
	if r.host.Sim.Selected() {
		t.Fatalf("xfer should release chip select")
	}
}

func TestSPI_SelectHoldsAcrossXfers(t *testing.T) {
	r := newRig(t, "olimexino")
	r.exec(t, "spi init")
	r.host.Sim.ClearLog()

	r.exec(t, "spi select on")
	r.exec(t, "spi xfer 0x9f")
	if got := r.exec(t, "spi xfer ff ff ff"); got != "EF 40 18\r\n" {
		t.Fatalf("second xfer = %q", got)
	}
	if !r.host.Sim.Selected() {
		t.Fatalf("chip select should still be held")
	}
	r.exec(t, "spi select off")
	want := [][]byte{{0x9F, 0xFF, 0xFF, 0xFF}}
	if diff := cmp.Diff(want, r.host.Sim.Frames()); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
}

func TestSPI_XferLoopbackQuoted(t *testing.T) {
	r := newRig(t, "olimexino")
	r.host.Sim.Attach(sim.Loopback{})
	r.exec(t, "spi init")
	if got := r.exec(t, `spi xfer "01" '02' 0xA5`); got != "01 02 A5\r\n" {
		t.Fatalf("xfer = %q", got)
	}
}

func TestSPI_Usage(t *testing.T) {
	r := newRig(t, "olimexino")
	for _, line := range []string{
		"spi",
		"spi frob",
		"spi select maybe",
		"spi xfer",
		"spi xfer zz",
		"spi xfer -r x 01",
		"spi xfer -r 9223372036854775807 9F",
		"spi xfer -r 256 9F",
	} {
		r.out.Reset()
		err := r.sh.Exec(line)
		if !errors.Is(err, cli.ErrUsage) {
			t.Errorf("%q: err = %v", line, err)
			continue
		}
		if !strings.HasPrefix(r.out.String(), "usage: spi ") {
			t.Errorf("%q: output = %q", line, r.out)
		}
	}
}

func TestExec_UnbalancedQuote(t *testing.T) {
	r := newRig(t, "olimexino")
	if err := r.sh.Exec(`spi xfer "01`); err == nil {
		t.Fatalf("unterminated quote should fail")
	}
	if !strings.HasPrefix(r.out.String(), "ERR: ") {
		t.Fatalf("output = %q", r.out)
	}
}

func TestBoard_ShowsLEDs(t *testing.T) {
	r := newRig(t, "olimexino_leds")
	got := r.exec(t, "board")
	for _, want := range []string{
		"board olimexino_leds, spi2 on stm32f10x",
		"MOSI PB15 MISO PB14 SCK PB13 NSS PB12",
		"LED0: PA5",
		"LED1: PA1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("board output missing %q:\n%s", want, got)
		}
	}
}

func TestRun_PromptAndExit(t *testing.T) {
	r := newRig(t, "olimexino")
	in := strings.NewReader("spi select on\nversion\nexit\nhelp\n")
	if err := r.sh.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := r.out.String()
	if !strings.HasPrefix(got, "# ") || !strings.HasSuffix(got, "Leaving CLI mode\r\n") {
		t.Fatalf("transcript:\n%q", got)
	}
	if strings.Contains(got, "Available commands") {
		t.Fatalf("commands after exit should not run")
	}
	if r.host.Sim.Selected() {
		t.Fatalf("leaving the shell should release a held chip select")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	r := newRig(t, "olimexino")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.sh.Run(ctx, strings.NewReader("version\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
