// Package topology provides a read-only projection of the persisted fleet,
// filtered by the managed-fleet tag and the enabled regions.
package topology
