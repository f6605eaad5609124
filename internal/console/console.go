// Package console is the interactive front end of `walletlink run`: an
// action menu mirroring the protocol operations and an event log.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/postalsys/walletlink/internal/dapp"
	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/pending"
	"github.com/postalsys/walletlink/internal/protocol"
)

// Client is the subset of *dapp.Client the console drives.
type Client interface {
	Connect(ctx context.Context) (*pending.Operation, error)
	Disconnect(ctx context.Context) (*pending.Operation, error)
	SignAndSendTransaction(ctx context.Context, tx []byte) (*pending.Operation, error)
	SignTransaction(ctx context.Context, tx []byte) (*pending.Operation, error)
	SignAllTransactions(ctx context.Context, txs [][]byte) (*pending.Operation, error)
	SignMessageText(ctx context.Context, text string) (*pending.Operation, error)
	Browse(ctx context.Context, resource, ref string) error
	Forget()
	Status() dapp.Status
}

// Actions offered by the menu.
const (
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionSignAndSend = "sign-and-send"
	ActionSignAll     = "sign-all"
	ActionSign        = "sign"
	ActionSignMessage = "sign-message"
	ActionBrowse      = "browse"
	ActionStatus      = "status"
	ActionEvents      = "events"
	ActionForget      = "forget"
	ActionQuit        = "quit"
)

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Console runs the action menu.
type Console struct {
	client      Client
	bus         *events.Bus
	out         io.Writer
	waitTimeout time.Duration
	theme       *huh.Theme
}

// New creates a console. waitTimeout bounds how long an action waits for
// the wallet; 0 waits until the context ends.
func New(client Client, bus *events.Bus, out io.Writer, waitTimeout time.Duration) *Console {
	return &Console{
		client:      client,
		bus:         bus,
		out:         out,
		waitTimeout: waitTimeout,
		theme:       huh.ThemeDracula(),
	}
}

// Run shows the menu until the user quits or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		action, err := c.askAction()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if action == ActionQuit {
			return nil
		}

		if err := c.Do(ctx, action); err != nil {
			fmt.Fprintln(c.out, FormatResult(nil, err))
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) askAction() (string, error) {
	st := c.client.Status()
	action := ActionConnect
	if st.Connected {
		action = ActionSignMessage
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("walletlink: " + st.State).
				Options(menuOptions(st.Connected)...).
				Value(&action),
		),
	).WithTheme(c.theme)

	err := form.Run()
	return action, err
}

func menuOptions(connected bool) []huh.Option[string] {
	opts := []huh.Option[string]{huh.NewOption("Connect", ActionConnect)}
	if connected {
		opts = append(opts,
			huh.NewOption("Disconnect", ActionDisconnect),
			huh.NewOption("Sign and send transaction", ActionSignAndSend),
			huh.NewOption("Sign all transactions", ActionSignAll),
			huh.NewOption("Sign transaction", ActionSign),
			huh.NewOption("Sign message", ActionSignMessage),
		)
	}
	opts = append(opts,
		huh.NewOption("Browse", ActionBrowse),
		huh.NewOption("Status", ActionStatus),
		huh.NewOption("Event log", ActionEvents),
	)
	if connected {
		opts = append(opts, huh.NewOption("Forget session", ActionForget))
	}
	return append(opts, huh.NewOption("Quit", ActionQuit))
}

// Do performs one action, prompting for its input.
func (c *Console) Do(ctx context.Context, action string) error {
	switch action {
	case ActionConnect:
		return c.await(ctx, func() (*pending.Operation, error) { return c.client.Connect(ctx) })

	case ActionDisconnect:
		return c.await(ctx, func() (*pending.Operation, error) { return c.client.Disconnect(ctx) })

	case ActionSignAndSend, ActionSign:
		input, err := c.askText("Transaction", "Serialized transaction, base-58 encoded", false)
		if err != nil {
			return err
		}
		txs, err := ParseTransactions(input)
		if err != nil {
			return err
		}
		if action == ActionSign {
			return c.await(ctx, func() (*pending.Operation, error) { return c.client.SignTransaction(ctx, txs[0]) })
		}
		return c.await(ctx, func() (*pending.Operation, error) { return c.client.SignAndSendTransaction(ctx, txs[0]) })

	case ActionSignAll:
		input, err := c.askText("Transactions", "One base-58 serialized transaction per line", true)
		if err != nil {
			return err
		}
		txs, err := ParseTransactions(input)
		if err != nil {
			return err
		}
		return c.await(ctx, func() (*pending.Operation, error) { return c.client.SignAllTransactions(ctx, txs) })

	case ActionSignMessage:
		msg, err := c.askText("Message", "Text to sign", true)
		if err != nil {
			return err
		}
		return c.await(ctx, func() (*pending.Operation, error) { return c.client.SignMessageText(ctx, msg) })

	case ActionBrowse:
		resource, err := c.askText("URL", "Page to open in the wallet browser", false)
		if err != nil {
			return err
		}
		if err := c.client.Browse(ctx, strings.TrimSpace(resource), ""); err != nil {
			return err
		}
		fmt.Fprintln(c.out, okStyle.Render("Opened in wallet"))
		return nil

	case ActionStatus:
		fmt.Fprintln(c.out, FormatStatus(c.client.Status(), time.Now()))
		return nil

	case ActionEvents:
		c.PrintHistory()
		return nil

	case ActionForget:
		c.client.Forget()
		fmt.Fprintln(c.out, okStyle.Render("Session forgotten"))
		return nil
	}
	return fmt.Errorf("unknown action: %s", action)
}

func (c *Console) askText(title, description string, multiline bool) (string, error) {
	var value string
	var field huh.Field
	if multiline {
		field = huh.NewText().Title(title).Description(description).Value(&value)
	} else {
		field = huh.NewInput().Title(title).Description(description).Value(&value)
	}
	err := huh.NewForm(huh.NewGroup(field)).WithTheme(c.theme).Run()
	return value, err
}

// await starts an operation and waits for the wallet's answer.
func (c *Console) await(ctx context.Context, start func() (*pending.Operation, error)) error {
	op, err := start()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, timeStyle.Render("Waiting for the wallet..."))
	if c.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}

	res, err := op.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no answer from the wallet within %s", c.waitTimeout)
	}
	fmt.Fprintln(c.out, FormatResult(res, err))
	return nil
}

// PrintHistory writes the retained events.
func (c *Console) PrintHistory() {
	history := c.bus.History()
	if len(history) == 0 {
		fmt.Fprintln(c.out, timeStyle.Render("No events yet"))
		return
	}
	for _, ev := range history {
		fmt.Fprintln(c.out, FormatEvent(ev))
	}
}

// Tail writes every event as it is published until ctx ends or the bus
// closes. It is the non-interactive view.
func Tail(ctx context.Context, bus *events.Bus, out io.Writer) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintln(out, FormatEvent(ev))
		}
	}
}

// ParseTransactions decodes base-58 transactions, one per non-empty line.
func ParseTransactions(input string) ([][]byte, error) {
	var txs [][]byte
	for i, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tx, err := protocol.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return nil, errors.New("no transactions given")
	}
	return txs, nil
}
