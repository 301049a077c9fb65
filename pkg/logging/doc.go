// Package logging provides structured logging configuration for the gateway.
//
// This package wraps log/slog. Every handler created by New is wrapped in a
// ContextHandler, so records logged with a context that carries a request
// context (see package reqctx) automatically gain traceId and connectionId
// attributes:
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo})
//	logger.InfoContext(ctx, "cache lookup", "hit", true)
//	// level=INFO msg="cache lookup" hit=true traceId=1a2b3c4d
//
// The trace id is never stored in logger state; it always travels with the
// context of the unit of work being logged.
//
// Components should accept a *slog.Logger in their constructor. If no logger
// is provided, use logging.Nop().
package logging
