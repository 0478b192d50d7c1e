package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/buddybot/buddybot/client/internal/auth"
)

const (
	ServiceName = "BuddyBot"

	tokenKey = "session_token"
	userKey  = "session_user"
)

var ErrNoSession = errors.New("not logged in, run 'buddybot login' first")

// Store keeps the session token in the OS keyring
type Store struct {
	ring keyring.Keyring
}

// Open opens the OS keyring. Systems without a native keyring use an encrypted file under the user config dir.
func Open() (*Store, error) {
	fileDir := ""
	if dir, err := os.UserConfigDir(); err == nil {
		fileDir = filepath.Join(dir, "buddybot", "keyring")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:      ServiceName,
		FileDir:          fileDir,
		FilePasswordFunc: keyring.TerminalPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open the keyring, error: %v", err)
	}
	return New(ring), nil
}

func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Save stores the session, replacing the previous one
func (s *Store) Save(session *auth.Session) error {
	if err := s.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  []byte(session.Token),
		Label: "BuddyBot session token",
	}); err != nil {
		return fmt.Errorf("failed to store the token, error: %v", err)
	}

	if session.User == nil {
		return s.remove(userKey)
	}
	data, err := json.Marshal(session.User)
	if err != nil {
		return err
	}
	if err := s.ring.Set(keyring.Item{Key: userKey, Data: data, Label: "BuddyBot user"}); err != nil {
		return fmt.Errorf("failed to store the user, error: %v", err)
	}
	return nil
}

// Load returns the stored session. ErrNoSession is returned when nobody is logged in.
func (s *Store) Load() (*auth.Session, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get the token, error: %v", err)
	}

	session := &auth.Session{Token: string(item.Data)}
	userItem, err := s.ring.Get(userKey)
	switch {
	case errors.Is(err, keyring.ErrKeyNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get the user, error: %v", err)
	default:
		user := &auth.User{}
		if err := json.Unmarshal(userItem.Data, user); err == nil {
			session.User = user
		}
	}
	return session, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *Store) Delete() error {
	if err := s.remove(tokenKey); err != nil {
		return err
	}
	return s.remove(userKey)
}

func (s *Store) remove(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete secret, error: %v", err)
	}
	return nil
}
