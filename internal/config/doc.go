// Package config resolves the server settings. Defaults are overlaid by
// environment variables (a .env file found above the working directory is
// loaded into the environment first), then by an optional YAML file, then by
// command-line flags, and the result is validated before use.
package config
