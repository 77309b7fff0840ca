// Package probe answers replica health queries (replication lag, active
// connections, one-minute load average) over a short-lived read-only
// Postgres session.
package probe
