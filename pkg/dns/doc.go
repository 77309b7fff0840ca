// Package dns steers replica records between the replica's own address and
// the cluster primary, via the external updater script.
package dns
