// Package config loads, defaults, and validates the collector's YAML
// configuration. Environment variables in the file are expanded with
// ${VAR} syntax before parsing.
package config
