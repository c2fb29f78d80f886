// Package credentials supplies the login used by the upstream browser session.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name.
const DefaultService = "trailcam-archiver"

// ErrNotFound means no credentials are configured.
var ErrNotFound = errors.New("credentials not found")

// Credentials is a username and password pair.
type Credentials struct {
	Username string
	Password string
}

// Provider resolves credentials on demand.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static returns fixed credentials, usually loaded from config or .env.
type Static struct {
	creds Credentials
}

// NewStatic builds a Static provider.
func NewStatic(username, password string) *Static {
	return &Static{creds: Credentials{Username: username, Password: password}}
}

// Credentials returns the configured pair.
func (s *Static) Credentials(context.Context) (Credentials, error) {
	if strings.TrimSpace(s.creds.Username) == "" || s.creds.Password == "" {
		return Credentials{}, ErrNotFound
	}
	return s.creds, nil
}

// Keyring reads the password for a username from the OS keychain.
type Keyring struct {
	service  string
	username string
}

// NewKeyring builds a Keyring provider. An empty service uses DefaultService.
func NewKeyring(service, username string) *Keyring {
	if service == "" {
		service = DefaultService
	}
	return &Keyring{service: service, username: username}
}

// Credentials looks up the password for the configured username.
func (k *Keyring) Credentials(context.Context) (Credentials, error) {
	if k.username == "" {
		return Credentials{}, ErrNotFound
	}
	password, err := keyring.Get(k.service, k.username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, fmt.Errorf("%w: keyring entry %s/%s", ErrNotFound, k.service, k.username)
		}
		return Credentials{}, fmt.Errorf("read keyring: %w", err)
	}
	return Credentials{Username: k.username, Password: password}, nil
}

// Store saves password for the configured username.
func (k *Keyring) Store(password string) error {
	if k.username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if err := keyring.Set(k.service, k.username, password); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// Chain tries each provider in order and returns the first hit.
type Chain []Provider

// Credentials implements Provider.
func (c Chain) Credentials(ctx context.Context) (Credentials, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		creds, err := p.Credentials(ctx)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credentials{}, err
		}
	}
	return Credentials{}, ErrNotFound
}
