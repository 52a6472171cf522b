// Package observability provides the runtime logger, the JSONL audit event
// log, and the metrics and alerts derived from it for the AI employee.
// Metrics are computed on demand by replaying the event log.
package observability
