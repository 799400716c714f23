// Package provider connects the credential protocol to the Bitwarden vault.
package provider

import (
	"context"
	"fmt"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/bitwarden"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/credential"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
)

// Bitwarden implements credential.Provider against the bw CLI. Each
// operation establishes a session, optionally syncs, resolves the registry's
// vault item fresh, and performs the read or write.
type Bitwarden struct {
	sessions *bitwarden.SessionManager
	items    *bitwarden.Resolver
	syncer   *bitwarden.Syncer
	logger   *logging.Logger
}

// New wires the provider from its components.
func New(
	sessions *bitwarden.SessionManager,
	items *bitwarden.Resolver,
	syncer *bitwarden.Syncer,
	logger *logging.Logger,
) *Bitwarden {
	return &Bitwarden{
		sessions: sessions,
		items:    items,
		syncer:   syncer,
		logger:   logger,
	}
}

// Get returns the stored token for the registry, or credential.ErrNotFound.
func (p *Bitwarden) Get(ctx context.Context, registry credential.RegistryInfo) (string, error) {
	var token string
	err := p.withSession(ctx, func(session string) error {
		if err := p.syncer.MaybeSync(ctx, session, bitwarden.BeforeRead); err != nil {
			return err
		}

		item, err := p.items.Find(ctx, session, registry.IndexURL)
		if err != nil {
			return err
		}
		if item == nil {
			return credential.ErrNotFound
		}
		if item.Login == nil || item.Login.Password == "" {
			return fmt.Errorf("vault item `%s` has no password field", item.Name)
		}

		token = item.Login.Password
		return nil
	})
	return token, err
}

// Login stores the token in the vault, updating an existing item in place or
// creating a new one, then reconciles the write with the remote vault.
func (p *Bitwarden) Login(ctx context.Context, registry credential.RegistryInfo, token string) error {
	return p.withSession(ctx, func(session string) error {
		if _, err := p.items.Upsert(ctx, session, registry.IndexURL, registry.Name, token); err != nil {
			return err
		}
		return p.syncer.MaybeSync(ctx, session, bitwarden.AfterWrite)
	})
}

// Logout erases the registry's vault item. Erasing an absent item succeeds,
// and skips the post-write sync since nothing changed.
func (p *Bitwarden) Logout(ctx context.Context, registry credential.RegistryInfo) error {
	return p.withSession(ctx, func(session string) error {
		if err := p.syncer.MaybeSync(ctx, session, bitwarden.BeforeRead); err != nil {
			return err
		}

		deleted, err := p.items.Delete(ctx, session, registry.IndexURL)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		return p.syncer.MaybeSync(ctx, session, bitwarden.AfterWrite)
	})
}

// withSession runs fn with an unlocked-vault session. When the vault rejects
// the session mid-operation, the cached session is invalidated and exactly
// one fresh unlock is attempted before giving up.
func (p *Bitwarden) withSession(ctx context.Context, fn func(session string) error) error {
	session, err := p.sessions.Ensure(ctx)
	if err != nil {
		return err
	}

	err = fn(session)
	if err == nil || !bitwarden.IsAuthRejection(err) {
		return err
	}

	p.logger.Debug("vault rejected the session, retrying once with a fresh unlock")
	p.sessions.Invalidate()

	session, retryErr := p.sessions.Ensure(ctx)
	if retryErr != nil {
		return retryErr
	}
	return fn(session)
}
