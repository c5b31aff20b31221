// Package sidelog is a write-only side channel for session events: a
// best-effort external mirror (Redis stream or Postgres table) used for
// cross-process observability, never consulted to serve the read API. A
// failing SideLogger never fails a session.
package sidelog

import (
	"context"

	"github.com/deepresearch/engine/internal/session"
)

// SideLogger is an alias for session.SideLogger: the interface lives in
// internal/session (which internal/sidelog must import for session.Event)
// to avoid an import cycle, and is re-exported here so callers can keep
// writing sidelog.SideLogger. Implementations must be safe for concurrent
// use and must never block the event producer for long; session.Store
// calls Append from its own goroutine, not the caller's.
type SideLogger = session.SideLogger

// NoOp is the default SideLogger: it discards everything. Used when
// sidelog.driver is "none".
type NoOp struct{}

func (NoOp) Append(context.Context, string, session.Event) error { return nil }
func (NoOp) Close() error                                        { return nil }
