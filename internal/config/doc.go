// Package config loads the bot configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as the API token can stay out of the file.
package config
