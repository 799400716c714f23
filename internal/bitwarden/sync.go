package bitwarden

import (
	"context"
	"fmt"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
)

// SyncPhase distinguishes the two points where a vault sync may run.
type SyncPhase int

// Sync phases.
const (
	BeforeRead SyncPhase = iota
	AfterWrite
)

func (p SyncPhase) String() string {
	if p == BeforeRead {
		return "before-read"
	}
	return "after-write"
}

// Syncer optionally reconciles local vault state with the remote copy. It is
// a no-op unless sync mode is enabled.
type Syncer struct {
	gateway *Gateway
	logger  *logging.Logger
	enabled bool
}

// NewSyncer creates a sync coordinator.
func NewSyncer(gateway *Gateway, logger *logging.Logger, enabled bool) *Syncer {
	return &Syncer{
		gateway: gateway,
		logger:  logger,
		enabled: enabled,
	}
}

// Enabled reports whether sync mode is on.
func (s *Syncer) Enabled() bool {
	return s.enabled
}

// MaybeSync runs `bw sync` when sync mode is enabled. A failure before a
// read is downgraded to a warning, since a possibly stale local answer is
// still useful; a failure after a write is an error, because the caller must
// know the write may not be durable across devices.
func (s *Syncer) MaybeSync(ctx context.Context, session string, phase SyncPhase) error {
	if !s.enabled {
		return nil
	}

	_, err := s.gateway.Run(ctx, Command{Args: []string{"sync"}, Session: session})
	if err == nil {
		s.logger.Debug("vault sync completed (%s)", phase)
		return nil
	}

	if phase == BeforeRead {
		s.logger.Warn("vault sync failed, proceeding with local state: %v", err)
		return nil
	}
	return fmt.Errorf("vault sync failed after write, remote copy may be stale: %w", err)
}
