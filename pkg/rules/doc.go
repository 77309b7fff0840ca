// Package rules owns the admin-path lifecycle of scaling rules: validation,
// persistence, reverse twins, and schedule installation.
package rules
