// Package types defines the shared data model: clusters, fleet nodes,
// scaling rules and their predicates, retry policies, exception calendar
// entries, and named credentials.
package types
