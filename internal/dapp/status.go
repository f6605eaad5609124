package dapp

import (
	"time"

	"github.com/postalsys/walletlink/internal/crypto"
	"github.com/postalsys/walletlink/internal/protocol"
)

// Status is a JSON-friendly view of the client. It carries public keys
// only; the session token and secrets are never exposed.
type Status struct {
	State           string          `json:"state"`
	Generation      uint64          `json:"generation"`
	PublicKey       string          `json:"public_key,omitempty"`
	WalletPublicKey string          `json:"wallet_public_key,omitempty"`
	Connected       bool            `json:"connected"`
	ConnectedAt     *time.Time      `json:"connected_at,omitempty"`
	ChangedAt       time.Time       `json:"changed_at"`
	Pending         []PendingStatus `json:"pending"`
}

// PendingStatus describes one outstanding request.
type PendingStatus struct {
	Method    string    `json:"method"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Status returns the current client status.
func (c *Client) Status() Status {
	snap := c.session.Snapshot()
	st := Status{
		State:      snap.State.String(),
		Generation: snap.Generation,
		Connected:  snap.HasSession,
		ChangedAt:  snap.ChangedAt,
		Pending:    []PendingStatus{},
	}
	if !crypto.IsZeroKey(snap.PublicKey) {
		st.PublicKey = protocol.Encode(snap.PublicKey[:])
	}
	if !crypto.IsZeroKey(snap.WalletPublicKey) {
		st.WalletPublicKey = protocol.Encode(snap.WalletPublicKey[:])
	}
	if !snap.ConnectedAt.IsZero() {
		t := snap.ConnectedAt
		st.ConnectedAt = &t
	}
	for _, p := range c.tracker.Pending() {
		st.Pending = append(st.Pending, PendingStatus{
			Method:    p.Method.String(),
			RequestID: p.ID,
			CreatedAt: p.CreatedAt,
		})
	}
	return st
}
