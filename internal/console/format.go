package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/postalsys/walletlink/internal/dapp"
	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/protocol"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	requestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
)

// FormatEvent renders one event log line.
func FormatEvent(ev events.Event) string {
	var b strings.Builder
	b.WriteString(timeStyle.Render(ev.Time.Format("15:04:05")))
	b.WriteString(" ")

	subject := ev.Method
	if ev.RequestID != "" {
		subject += " " + shortID(ev.RequestID)
	}

	switch ev.Kind {
	case events.KindRequest:
		b.WriteString(requestStyle.Render("→ " + subject))
	case events.KindResult:
		b.WriteString(okStyle.Render("✓ " + subject))
		if ev.Message != "" {
			b.WriteString(": " + ev.Message)
		}
	case events.KindWalletError:
		b.WriteString(warnStyle.Render("✗ " + subject))
		fmt.Fprintf(&b, ": wallet error %s (%s)", ev.Code, protocol.WalletErrorCodeName(ev.Code))
		if ev.Message != "" {
			b.WriteString(" " + ev.Message)
		}
	case events.KindFailure:
		if subject == "" {
			subject = "callback"
		}
		b.WriteString(errStyle.Render("! " + subject))
		b.WriteString(": " + ev.Error)
	case events.KindState:
		b.WriteString(stateStyle.Render("● " + ev.State))
	case events.KindUnmatched:
		b.WriteString(warnStyle.Render("? " + subject))
		b.WriteString(": no pending request")
	default:
		b.WriteString(string(ev.Kind))
	}
	return b.String()
}

// FormatResult describes an operation outcome for display.
func FormatResult(res protocol.Result, err error) string {
	if err != nil {
		if we, ok := protocol.AsWalletError(err); ok {
			if we.UserRejected() {
				return warnStyle.Render("Request declined in the wallet.")
			}
			return warnStyle.Render(we.Error())
		}
		return errStyle.Render("Failed: " + err.Error())
	}

	switch r := res.(type) {
	case *protocol.ConnectResult:
		return okStyle.Render("Connected") + " to " + protocol.Encode(r.WalletPublicKey[:])
	case *protocol.DisconnectResult:
		return okStyle.Render("Disconnected")
	case *protocol.SignAndSendResult:
		return okStyle.Render("Submitted") + ", signature " + protocol.Encode(r.Signature)
	case *protocol.SignTransactionResult:
		return okStyle.Render("Signed") + " transaction: " + protocol.Encode(r.Transaction)
	case *protocol.SignAllResult:
		lines := []string{okStyle.Render(fmt.Sprintf("Signed %d transactions", len(r.Transactions)))}
		for i, tx := range r.Transactions {
			lines = append(lines, fmt.Sprintf("  [%d] %s", i, protocol.Encode(tx)))
		}
		return strings.Join(lines, "\n")
	case *protocol.SignMessageResult:
		verdict := warnStyle.Render("unverified")
		if r.Verified {
			verdict = okStyle.Render("verified")
		}
		return fmt.Sprintf("Signature (%s): %s", verdict, protocol.Encode(r.Signature))
	}
	return "Done"
}

// FormatStatus renders a status block. now anchors relative times.
func FormatStatus(st dapp.Status, now time.Time) string {
	var lines []string
	row := func(label, value string) {
		lines = append(lines, labelStyle.Render(label)+value)
	}

	row("State", stateStyle.Render(st.State)+timeStyle.Render(" since "+humanize.RelTime(st.ChangedAt, now, "ago", "from now")))
	if st.WalletPublicKey != "" {
		row("Wallet", st.WalletPublicKey)
	}
	if st.ConnectedAt != nil {
		row("Connected", humanize.RelTime(*st.ConnectedAt, now, "ago", "from now"))
	}
	if st.PublicKey != "" {
		row("Dapp key", st.PublicKey)
	}
	row("Key generation", humanize.Comma(int64(st.Generation)))

	if len(st.Pending) == 0 {
		row("Pending", "none")
	} else {
		row("Pending", fmt.Sprintf("%d", len(st.Pending)))
		for _, p := range st.Pending {
			id := ""
			if p.RequestID != "" {
				id = " " + shortID(p.RequestID)
			}
			lines = append(lines, fmt.Sprintf("  %s%s, opened %s", p.Method, id,
				humanize.RelTime(p.CreatedAt, now, "ago", "from now")))
		}
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
