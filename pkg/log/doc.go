// Package log wraps zerolog with a process-wide logger and child-logger
// helpers for the fields used throughout the controller.
package log
