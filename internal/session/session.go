// Package session stores cross-turn memory and supplies it to the loop as
// prior context.
package session

import (
	"context"

	"github.com/martinemde/reasonloop/agentloop"
)

// Store is a PriorContextSupplier that can also record what a run did.
type Store interface {
	agentloop.PriorContextSupplier
	// Record appends calls to the session and replaces its active skills when
	// skills is non-nil.
	Record(ctx context.Context, sessionID string, calls []agentloop.RecentCall, skills []string) error
	Close() error
}
