// Package console is the line-oriented command interface of the display
// unit, reachable over a serial port or stdin.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	appLog "vdu/internal/log"
)

// MaxLineLen is the longest command line kept; extra bytes are discarded.
const MaxLineLen = 127

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Handler runs one command. args excludes the command name.
type Handler interface {
	Handle(ctx context.Context, args []string, w io.Writer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []string, w io.Writer) error

func (f HandlerFunc) Handle(ctx context.Context, args []string, w io.Writer) error {
	return f(ctx, args, w)
}

type entry struct {
	h    Handler
	help string
}

// Registry maps upper-case command names to handlers.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]entry
}

// NewRegistry returns a registry with HELP already registered.
func NewRegistry() *Registry {
	r := &Registry{cmds: make(map[string]entry)}
	r.Register("HELP", "list commands", HandlerFunc(r.help))
	return r
}

// Register adds or replaces a command.
func (r *Registry) Register(name, help string, h Handler) {
	r.mu.Lock()
	r.cmds[strings.ToUpper(name)] = entry{h: h, help: help}
	r.mu.Unlock()
}

// Names returns the registered commands, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cmds))
	for n := range r.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) help(_ context.Context, _ []string, w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cmds))
	for n := range r.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-10s %s\n", n, r.cmds[n].help)
	}
	return nil
}

// Dispatch runs one line. Blank lines are ignored.
func (r *Registry) Dispatch(ctx context.Context, line string, w io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToUpper(fields[0])

	r.mu.RLock()
	e, ok := r.cmds[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	return e.h.Handle(ctx, fields[1:], w)
}

func isTerminator(b byte) bool {
	return b == '\r' || b == '\n' || b == '"'
}

// Serve reads commands from r until ctx is done or r fails, writing
// replies and errors to w. A read returning no data and no error (a
// serial read timeout) is retried.
func Serve(ctx context.Context, reg *Registry, r io.Reader, w io.Writer) error {
	line := make([]byte, 0, MaxLineLen)
	buf := make([]byte, 16)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if !isTerminator(b) {
				if len(line) < MaxLineLen {
					line = append(line, b)
				}
				continue
			}
			if len(line) > 0 {
				run(ctx, reg, string(line), w)
				line = line[:0]
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(line) > 0 {
					run(ctx, reg, string(line), w)
				}
				return nil
			}
			return err
		}
	}
}

func run(ctx context.Context, reg *Registry, line string, w io.Writer) {
	if err := reg.Dispatch(ctx, line, w); err != nil {
		appLog.Debug("console: command failed", "line", line, "err", err)
		fmt.Fprintf(w, "ERROR: %v\n", err)
	}
}

// serialReadTimeout lets Serve observe cancellation between reads.
const serialReadTimeout = 50 * time.Millisecond

// OpenSerial opens a port in 8N1 mode at baud.
func OpenSerial(path string, baud int) (serial.Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("console: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("console: set read timeout: %w", err)
	}
	return port, nil
}
