// Package opener hands outbound deeplink targets to the operating system.
package opener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ErrNoOpener is returned when the platform has no known way to open URLs.
var ErrNoOpener = errors.New("no URL opener available")

// Opener performs the app switch for a target URL. It returns once the
// target has been handed off; it never waits for the wallet.
type Opener interface {
	Open(ctx context.Context, target string) error
}

// Func adapts a function to Opener.
type Func func(ctx context.Context, target string) error

// Open implements Opener.
func (f Func) Open(ctx context.Context, target string) error {
	return f(ctx, target)
}

// Command opens targets by running an executable with the URL as its last
// argument, e.g. "xdg-open" or "termux-open-url".
type Command struct {
	Name string
	Args []string
}

// Open implements Opener.
func (c *Command) Open(ctx context.Context, target string) error {
	args := append(append([]string(nil), c.Args...), target)
	cmd := exec.CommandContext(ctx, c.Name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%s: %w: %s", c.Name, err, out)
		}
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// Writer prints each target on its own line, for copying to a phone or
// piping into another tool.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer opener.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Open implements Opener.
func (p *Writer) Open(_ context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, target)
	return err
}

// Recorder keeps every target it is asked to open. Useful in tests and
// dry runs.
type Recorder struct {
	mu      sync.Mutex
	targets []string
	err     error
}

// Open implements Opener.
func (r *Recorder) Open(_ context.Context, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.targets = append(r.targets, target)
	return nil
}

// FailWith makes subsequent opens return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Targets returns a copy of the recorded targets.
func (r *Recorder) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

// Last returns the most recent target, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.targets) == 0 {
		return ""
	}
	return r.targets[len(r.targets)-1]
}

// New returns an opener for a configured mode: "system", "print" or
// "command".
func New(mode, command string, out io.Writer) (Opener, error) {
	switch mode {
	case "", "system":
		return System()
	case "print":
		return NewWriter(out), nil
	case "command":
		if command == "" {
			return nil, fmt.Errorf("opener command is empty")
		}
		return &Command{Name: command}, nil
	default:
		return nil, fmt.Errorf("unknown opener mode: %s", mode)
	}
}
