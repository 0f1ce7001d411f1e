// Package cli is the line-oriented command shell for poking a board's SPI
// bus by hand. Commands are kept sorted so lookup is a binary search, and a
// line is split shell-style, so quoted arguments survive.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"spibus-go/drivers/spibus"
	"spibus-go/services/config"
)

var (
	ErrUnknownCommand = errors.New("cli: unknown command")
	ErrUsage          = errors.New("cli: usage")
)

const prompt = "# "

type command struct {
	name  string
	param string
	run   func(s *Shell, args []string) error
}

// sorted a..z for sort.Search. Filled in init because help lists the
// table itself.
var commands []command

func init() {
	commands = []command{
		{"board", "show board wiring and options", (*Shell).cmdBoard},
		{"exit", "", (*Shell).cmdExit},
		{"help", "", (*Shell).cmdHelp},
		{"spi", "init | probe | id | select on|off | xfer [-r n] hex...", (*Shell).cmdSPI},
		{"status", "show system status", (*Shell).cmdStatus},
		{"version", "", (*Shell).cmdVersion},
	}
}

// Shell runs commands against one board and its bus. It is not safe for
// concurrent use.
type Shell struct {
	out     io.Writer
	board   *config.Board
	bus     *spibus.Bus
	version string
	started time.Time
	ctx     context.Context

	held    bool // chip select asserted by "spi select on"
	probed  bool
	present bool
	done    bool
}

func New(out io.Writer, board *config.Board, b *spibus.Bus, version string) *Shell {
	return &Shell{out: out, board: board, bus: b, version: version, started: time.Now(), ctx: context.Background()}
}

func lookup(name string) (command, bool) {
	name = strings.ToLower(name)
	i := sort.Search(len(commands), func(i int) bool { return commands[i].name >= name })
	if i < len(commands) && commands[i].name == name {
		return commands[i], true
	}
	return command{}, false
}

// Complete returns the commands starting with prefix.
func Complete(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c.name, prefix) {
			out = append(out, c.name)
		}
	}
	return out
}

// Exec runs one line. Blank lines are ignored.
func (s *Shell) Exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		s.printf("ERR: %v\r\n", err)
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := lookup(args[0])
	if !ok {
		s.printf("ERR: Unknown command, try 'help'\r\n")
		return ErrUnknownCommand
	}
	if err := cmd.run(s, args[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			s.printf("usage: %s %s\r\n", cmd.name, cmd.param)
		} else {
			s.printf("ERR: %v\r\n", err)
		}
		return err
	}
	return nil
}

// Run reads lines from r until EOF, "exit" or ctx ends. Command errors are
// printed and do not stop the loop.
func (s *Shell) Run(ctx context.Context, r io.Reader) error {
	s.ctx = ctx
	defer func() { s.ctx = context.Background() }()
	sc := bufio.NewScanner(r)
	s.printf("%s", prompt)
	for !s.done && sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = s.Exec(sc.Text())
		if !s.done {
			s.printf("%s", prompt)
		}
	}
	if s.held {
		s.bus.Select(false)
		s.held = false
	}
	return sc.Err()
}

func (s *Shell) printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}
