// Package storage persists controller state (clusters, nodes, rules,
// exception calendar, credentials, instance-class catalog) in BoltDB.
//
// Values are stored as JSON, one bucket per entity kind. Updates are
// whole-record upserts; no multi-record transaction is required by the
// callers, whose writes are confined to single records (a node's last
// instance class, a rule's retry counter, the discovery sync output).
package storage
