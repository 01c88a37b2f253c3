// Package config loads the client configuration from a JSON file, an optional
// .env file and CRYPTONITE_* environment overrides.
package config
