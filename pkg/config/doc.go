// Package config loads controller configuration from YAML with sane defaults.
package config
