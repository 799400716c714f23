package bitwarden

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/config"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
)

// ItemName derives the canonical vault item name for a registry. Same
// registry identity always yields the same name.
func ItemName(indexURL, registryName string) string {
	name := registryName
	if name == "" {
		name = hostOf(indexURL)
	}
	return fmt.Sprintf("Cargo registry token for %s", name)
}

// hostOf extracts the host from a registry index URL, tolerating cargo's
// sparse+https scheme prefix.
func hostOf(indexURL string) string {
	parsed, err := url.Parse(strings.TrimPrefix(indexURL, "sparse+"))
	if err != nil || parsed.Host == "" {
		return "<unknown>"
	}
	return parsed.Hostname()
}

// Resolver locates, creates, updates and deletes the vault item backing one
// registry. Items are fetched fresh for each operation; nothing is cached
// across calls, since other clients may mutate the vault concurrently.
type Resolver struct {
	gateway    *Gateway
	logger     *logging.Logger
	duplicates string
}

// NewResolver creates a resolver with the given duplicate-handling policy
// (config.DuplicatesFailClosed or config.DuplicatesNewest).
func NewResolver(gateway *Gateway, logger *logging.Logger, duplicates string) *Resolver {
	if duplicates == "" {
		duplicates = config.DuplicatesFailClosed
	}
	return &Resolver{
		gateway:    gateway,
		logger:     logger,
		duplicates: duplicates,
	}
}

// Find returns the vault item whose login URIs contain exactly indexURL, or
// nil when none exists. With multiple matches the configured policy either
// picks the most recently revised item or fails with AmbiguousItemError.
func (r *Resolver) Find(ctx context.Context, session, indexURL string) (*Item, error) {
	items, err := r.gateway.RunJSONItems(ctx, Command{
		Args:    []string{"list", "items", "--url", indexURL},
		Session: session,
	})
	if err != nil {
		return nil, err
	}

	var matches []Item
	for _, item := range items {
		if item.Login == nil {
			continue
		}
		for _, uri := range item.Login.URIs {
			if uri.URI == indexURL {
				matches = append(matches, item)
				break
			}
		}
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	}

	if r.duplicates != config.DuplicatesNewest {
		return nil, &AmbiguousItemError{IndexURL: indexURL, Matches: len(matches)}
	}

	// Deterministic tie-break: newest revision wins, item id breaks exact
	// revision ties.
	sort.Slice(matches, func(i, j int) bool {
		ti, tj := parseTimestamp(matches[i].RevisionDate), parseTimestamp(matches[j].RevisionDate)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return matches[i].ID < matches[j].ID
	})
	r.logger.Warn("%d Bitwarden logins match registry `%s`, using the most recently revised", len(matches), indexURL)
	return &matches[0], nil
}

// Upsert stores token for the registry, editing the existing item in place
// when one exists and creating a login item otherwise.
func (r *Resolver) Upsert(ctx context.Context, session, indexURL, registryName, token string) (*Item, error) {
	existing, err := r.Find(ctx, session, indexURL)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		r.logger.Info("token already exists for `%s`, updating it", indexURL)
		return r.edit(ctx, session, existing, indexURL, registryName, token)
	}
	return r.create(ctx, session, indexURL, registryName, token)
}

// edit replaces the secret fields of an existing item, preserving its id,
// folder and any user-set metadata.
func (r *Resolver) edit(ctx context.Context, session string, item *Item, indexURL, registryName, token string) (*Item, error) {
	updated := *item
	if updated.Login != nil {
		login := *updated.Login
		login.Password = token
		updated.Login = &login
	} else {
		match := URIMatchHost
		updated.Login = &Login{
			Password: token,
			URIs:     []URI{{URI: indexURL, Match: &match}},
		}
	}
	updated.Name = ItemName(indexURL, registryName)

	encoded, err := r.encode(ctx, session, updated, token)
	if err != nil {
		return nil, err
	}

	_, err = r.gateway.Run(ctx, Command{
		Args:    []string{"edit", "item", item.ID, encoded},
		Session: session,
		Redact:  []string{token, encoded},
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *Resolver) create(ctx context.Context, session, indexURL, registryName, token string) (*Item, error) {
	match := URIMatchHost
	item := Item{
		Type: TypeLogin,
		Name: ItemName(indexURL, registryName),
		Login: &Login{
			Password: token,
			URIs:     []URI{{URI: indexURL, Match: &match}},
		},
	}

	encoded, err := r.encode(ctx, session, item, token)
	if err != nil {
		return nil, err
	}

	_, err = r.gateway.Run(ctx, Command{
		Args:    []string{"create", "item", encoded},
		Session: session,
		Redact:  []string{token, encoded},
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Delete removes the registry's vault item. A missing item is a success:
// erase is idempotent. Reports whether anything was actually deleted.
func (r *Resolver) Delete(ctx context.Context, session, indexURL string) (bool, error) {
	item, err := r.Find(ctx, session, indexURL)
	if err != nil {
		return false, err
	}
	if item == nil {
		r.logger.Debug("no vault item for `%s`, nothing to delete", indexURL)
		return false, nil
	}

	_, err = r.gateway.Run(ctx, Command{
		Args:    []string{"delete", "item", item.ID},
		Session: session,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) encode(ctx context.Context, session string, item Item, token string) (string, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to serialize vault item: %w", err)
	}
	return r.gateway.Encode(ctx, session, payload, []string{token})
}
