// Package config holds the alarm processor settings and helpers to load,
// validate and save them as YAML.
package config
