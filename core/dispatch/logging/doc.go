// Package logging keeps the dispatch audit trail: every submission, dispatch,
// queueing, escalation and status change, stored as JSONL (optionally rotated)
// or in SQLite.
package logging
