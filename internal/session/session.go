// Package session owns the connection lifecycle with the wallet: the
// ephemeral keypair, the shared secret and the session token.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/postalsys/walletlink/internal/crypto"
	"github.com/postalsys/walletlink/internal/protocol"
	"github.com/postalsys/walletlink/internal/request"
)

// State represents the connection state.
type State int32

const (
	StateIdle State = iota
	StateKeyExchangePending
	StateConnected
	StateDisconnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateKeyExchangePending:
		return "KEY_EXCHANGE_PENDING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInvalidTransition is returned when a callback arrives in a state
	// that cannot accept it.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleGeneration is returned when a connect callback answers a
	// keypair that has since been replaced.
	ErrStaleGeneration = errors.New("stale key generation")
)

// TransitionFunc is invoked after every state change, outside the lock.
type TransitionFunc func(from, to State)

// Snapshot is a copy of the non-secret session state.
type Snapshot struct {
	State           State
	Generation      uint64
	PublicKey       [crypto.KeySize]byte
	WalletPublicKey [crypto.KeySize]byte
	HasSession      bool
	ConnectedAt     time.Time
	ChangedAt       time.Time
}

// Session is the single owner of all mutable session state. The zero value
// is not usable; create with New.
type Session struct {
	mu sync.RWMutex

	rand         io.Reader
	state        State
	generation   uint64
	keypair      *crypto.Keypair
	secret       *crypto.SharedSecret
	token        string
	walletKey    [crypto.KeySize]byte
	connectedAt  time.Time
	changedAt    time.Time
	onTransition TransitionFunc
}

// New creates an idle session. A nil reader means crypto/rand.
func New(r io.Reader) *Session {
	return &Session{
		rand:      r,
		state:     StateIdle,
		changedAt: time.Now(),
	}
}

// SetTransitionHook registers fn to observe state changes.
func (s *Session) SetTransitionHook(fn TransitionFunc) {
	s.mu.Lock()
	s.onTransition = fn
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginConnect generates a fresh keypair and enters KeyExchangePending.
// Any previous secret and token are discarded, so a secret is never used
// across two keypair generations. Allowed from every state.
func (s *Session) BeginConnect() ([crypto.KeySize]byte, error) {
	kp, err := crypto.GenerateKeypair(s.rand)
	if err != nil {
		return [crypto.KeySize]byte{}, err
	}

	s.mu.Lock()
	s.clearLocked()
	s.keypair = kp
	s.generation++
	from, hook := s.setStateLocked(StateKeyExchangePending)
	s.mu.Unlock()

	notify(hook, from, StateKeyExchangePending)
	return kp.PublicKey, nil
}

// DeriveShared combines the current private key with the wallet key. The
// session is not modified; the secret is only adopted by Establish.
func (s *Session) DeriveShared(peerPublicKey []byte) (*crypto.SharedSecret, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateKeyExchangePending || s.keypair == nil {
		return nil, 0, fmt.Errorf("%w: no connect in progress (state %s)", ErrInvalidTransition, s.state)
	}
	secret, err := crypto.DeriveShared(s.keypair.PrivateKey[:], peerPublicKey)
	if err != nil {
		return nil, 0, err
	}
	return &secret, s.generation, nil
}

// SharedSecret returns a copy of the established secret.
func (s *Session) SharedSecret() (*crypto.SharedSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateConnected || s.secret.IsZero() {
		return nil, protocol.ErrNoActiveSession
	}
	secret := *s.secret
	return &secret, nil
}

// Establish adopts the result of a successful connect callback and enters
// Connected. The private key is zeroed once the secret exists.
func (s *Session) Establish(res *protocol.ConnectResult) error {
	if res == nil || res.Secret.IsZero() || res.Session == "" {
		return fmt.Errorf("%w: incomplete connect result", ErrInvalidTransition)
	}

	s.mu.Lock()
	if s.state != StateKeyExchangePending {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect callback in state %s", ErrInvalidTransition, state)
	}
	if res.Generation != s.generation {
		gen := s.generation
		s.mu.Unlock()
		return fmt.Errorf("%w: result generation %d, current %d", ErrStaleGeneration, res.Generation, gen)
	}

	secret := *res.Secret
	s.secret = &secret
	s.token = res.Session
	s.walletKey = res.WalletPublicKey
	s.keypair.Zero()
	s.connectedAt = time.Now()
	from, hook := s.setStateLocked(StateConnected)
	s.mu.Unlock()

	notify(hook, from, StateConnected)
	return nil
}

// ConfirmDisconnected applies the wallet's disconnect confirmation. Only a
// Connected session moves to Disconnected; in any other state the
// confirmation is stale and ErrInvalidTransition is returned.
func (s *Session) ConfirmDisconnected() error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: disconnect callback in state %s", ErrInvalidTransition, state)
	}
	s.clearLocked()
	s.keypair = nil
	from, hook := s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	notify(hook, from, StateDisconnected)
	return nil
}

// MarkDisconnected clears the secret, token and keypair and enters
// Disconnected from any active state. It is a local wipe used by Forget
// and Close; wallet confirmations go through ConfirmDisconnected. It is a
// no-op when there is nothing to disconnect.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	s.keypair = nil
	from, hook := s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	notify(hook, from, StateDisconnected)
}

// Credentials returns the state an encrypted request needs, or
// ErrNoActiveSession unless Connected with a token and secret.
func (s *Session) Credentials() (request.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateConnected || s.token == "" || s.secret.IsZero() || s.keypair == nil {
		return request.Credentials{}, fmt.Errorf("%w (state %s)", protocol.ErrNoActiveSession, s.state)
	}
	secret := *s.secret
	return request.Credentials{
		PublicKey: s.keypair.PublicKey,
		Secret:    &secret,
		Session:   s.token,
	}, nil
}

// Snapshot returns a copy of the non-secret state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:           s.state,
		Generation:      s.generation,
		WalletPublicKey: s.walletKey,
		HasSession:      s.token != "",
		ConnectedAt:     s.connectedAt,
		ChangedAt:       s.changedAt,
	}
	if s.keypair != nil {
		snap.PublicKey = s.keypair.PublicKey
	}
	return snap
}

// clearLocked zeroes secret material. Caller must hold mu.
func (s *Session) clearLocked() {
	if s.secret != nil {
		s.secret.Zero()
		s.secret = nil
	}
	if s.keypair != nil {
		s.keypair.Zero()
	}
	s.token = ""
	s.walletKey = [crypto.KeySize]byte{}
	s.connectedAt = time.Time{}
}

func (s *Session) setStateLocked(to State) (State, TransitionFunc) {
	from := s.state
	s.state = to
	s.changedAt = time.Now()
	return from, s.onTransition
}

func notify(hook TransitionFunc, from, to State) {
	if hook != nil {
		hook(from, to)
	}
}
