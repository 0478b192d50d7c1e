package server

import (
	"errors"
	"net/mail"
	"strings"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/crypto/bcrypt"

	"github.com/buddybot/buddybot/relay/auth"
)

const minPasswordLength = 8

var (
	ErrAccountExists      = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrMissingUsername    = errors.New("username is required")
)

type account struct {
	identity     auth.Identity
	passwordHash []byte
}

// Accounts is an in-memory account registry keyed by email
type Accounts struct {
	mu       sync.RWMutex
	byEmail  map[string]*account
	hashCost int
}

func NewAccounts() *Accounts {
	return &Accounts{
		byEmail:  make(map[string]*account),
		hashCost: bcrypt.DefaultCost,
	}
}

func (a *Accounts) Register(email, username, password string) (*auth.Identity, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrMissingUsername
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.hashCost)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byEmail[email]; ok {
		return nil, ErrAccountExists
	}

	acc := &account{
		identity: auth.Identity{
			UserID:   xid.New().String(),
			Email:    email,
			Username: username,
		},
		passwordHash: hash,
	}
	a.byEmail[email] = acc

	id := acc.identity
	return &id, nil
}

func (a *Accounts) Login(email, password string) (*auth.Identity, error) {
	a.mu.RLock()
	acc, ok := a.byEmail[normalizeEmail(email)]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	id := acc.identity
	return &id, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
