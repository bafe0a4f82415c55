// Package logging implements the server's append-only file logger.
//
// The format is fixed by spec: "[YYYY-MM-DD HH:MM:SS] [LEVEL] message",
// two severities, one file, never fatal. This mirrors the teacher's own
// logger.go, which treats logging as a thin, dependency-free concern
// rather than reaching for a structured logging framework — here that
// means a small hand-rolled writer instead of a slog handler, since no
// library in the example pack emits this exact line shape.
package logging
