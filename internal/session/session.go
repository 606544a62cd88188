// Package session implements wallet login for the frontend: a one-time
// challenge signed with personal_sign, exchanged for a bearer session that
// carries the selected account.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Default lifetimes.
const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultSessionTTL   = 24 * time.Hour
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNoChallenge      = errors.New("no pending challenge")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match address")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
)

// Challenge is a pending login for one address.
type Challenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is an authenticated wallet. Address is verified by signature.
// SelectedAccount is the identity the user acts as and is not verified;
// empty means the wallet itself.
type Session struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	SelectedAccount string    `json:"selectedAccount,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Actor returns the selected account, or the wallet address when none is
// selected.
func (s Session) Actor() string {
	if s.SelectedAccount != "" {
		return s.SelectedAccount
	}
	return s.Address
}

// Manager holds challenges and sessions in memory.
type Manager struct {
	challengeTTL time.Duration
	sessionTTL   time.Duration

	mu         sync.Mutex
	challenges map[common.Address]Challenge
	sessions   map[string]*Session

	now func() time.Time
}

// NewManager creates a manager. Non-positive TTLs fall back to the defaults.
func NewManager(challengeTTL, sessionTTL time.Duration) *Manager {
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Manager{
		challengeTTL: challengeTTL,
		sessionTTL:   sessionTTL,
		challenges:   make(map[common.Address]Challenge),
		sessions:     make(map[string]*Session),
		now:          time.Now,
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// LoginMessage is the text the wallet signs.
func LoginMessage(address common.Address, nonce string, expires time.Time) string {
	return fmt.Sprintf("Sign in to Doneth\n\nAddress: %s\nNonce: %s\nExpires: %s",
		address.Hex(), nonce, expires.UTC().Format(time.RFC3339))
}

// IssueChallenge creates a challenge for address, replacing any pending one.
func (m *Manager) IssueChallenge(address string) (Challenge, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return Challenge{}, err
	}

	nonce := uuid.NewString()
	expires := m.now().Add(m.challengeTTL)
	c := Challenge{
		Address:   addr.Hex(),
		Nonce:     nonce,
		Message:   LoginMessage(addr, nonce, expires),
		ExpiresAt: expires,
	}

	m.mu.Lock()
	m.challenges[addr] = c
	m.mu.Unlock()
	return c, nil
}

// Login checks a personal_sign signature over the pending challenge and
// opens a session. The challenge is consumed whatever the outcome.
//
// Returns:
//   - Session: the new session; ID is the bearer token
//   - error: nil on success, a sentinel error otherwise
func (m *Manager) Login(address, signature string) (Session, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	c, ok := m.challenges[addr]
	delete(m.challenges, addr)
	m.mu.Unlock()

	if !ok {
		return Session{}, ErrNoChallenge
	}
	now := m.now()
	if now.After(c.ExpiresAt) {
		return Session{}, ErrChallengeExpired
	}

	signer, err := recoverSigner(c.Message, signature)
	if err != nil {
		return Session{}, err
	}
	if signer != addr {
		return Session{}, ErrSignerMismatch
	}

	s := &Session{
		ID:        uuid.NewString(),
		Address:   addr.Hex(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Info().Str("address", s.Address).Msg("wallet logged in")
	return *s, nil
}

// recoverSigner returns the address that signed message with personal_sign.
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	// Wallets return V as 27/28.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// lookup must be called with m.mu held.
func (m *Manager) lookup(token string) (*Session, error) {
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.now().After(s.ExpiresAt) {
		delete(m.sessions, token)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Get returns the live session for token.
func (m *Manager) Get(token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(token)
	if err != nil {
		return Session{}, err
	}
	return *s, nil
}

// SelectAccount sets the identity the session acts as. The account is not
// checked against the wallet: it only picks which public records the me/*
// views read, and Address stays the signed-in wallet.
func (m *Manager) SelectAccount(token, account string) (Session, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(token)
	if err != nil {
		return Session{}, err
	}
	s.SelectedAccount = addr.Hex()
	return *s, nil
}

// ClearAccount drops the selected identity.
func (m *Manager) ClearAccount(token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(token)
	if err != nil {
		return Session{}, err
	}
	s.SelectedAccount = ""
	return *s, nil
}

// Logout ends the session. Unknown tokens are not an error.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// Purge drops expired sessions and challenges and returns how many
// sessions were removed.
func (m *Manager) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	for addr, c := range m.challenges {
		if now.After(c.ExpiresAt) {
			delete(m.challenges, addr)
		}
	}
	return n
}

// Len returns the number of stored sessions, expired ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
