// Package config handles configuration loading for livechat-gateway.
//
// Configuration is loaded from a YAML file. ${VAR} references inside the
// file are expanded from the environment, duration fields accept Go
// duration strings ("30s", "24h"), and a handful of LIVECHAT_* environment
// variables override their file counterparts so secrets never have to be
// written to disk.
package config
