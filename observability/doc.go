// Package observability provides an OpenTelemetry metrics extension for
// the job engine. MetricsExtension implements lifecycle hooks to record
// system-wide counters for job starts, completions, kills, stops by
// reason, guard churn, schedule firings and event dispatch, plus a
// histogram of job lifetimes.
package observability
