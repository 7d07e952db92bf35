package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for an unknown user or wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

// Credentials holds bcrypt password hashes for faculty accounts.
type Credentials struct {
	mu     sync.RWMutex
	hashes map[string][]byte
	// dummy is compared against for unknown users so both paths cost a bcrypt round.
	dummy []byte
}

// NewCredentials creates an empty credential store.
func NewCredentials() *Credentials {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("unused"), bcrypt.MinCost)
	return &Credentials{hashes: make(map[string][]byte), dummy: dummy}
}

// AddHash registers a precomputed bcrypt hash.
func (c *Credentials) AddHash(username, hash string) error {
	if username == "" {
		return errors.New("username required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[username] = []byte(hash)
	return nil
}

// AddPassword hashes and registers a plaintext password.
func (c *Credentials) AddPassword(username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return c.AddHash(username, string(hash))
}

// Len is the number of registered accounts.
func (c *Credentials) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

// Verify checks a username/password pair.
func (c *Credentials) Verify(username, password string) error {
	c.mu.RLock()
	hash, ok := c.hashes[username]
	c.mu.RUnlock()
	if !ok {
		_ = bcrypt.CompareHashAndPassword(c.dummy, []byte(password))
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

