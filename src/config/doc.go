// Package config defines the configuration for a parley participant.
//
// Regardless of how parley is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, parley relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  parley.toml // (optional) configuration file read by the CLI.
//  cert.pem // (optional) an x509 certificate for the WAMP signaling server.
//  badger_db // the session history database, when Store is set.
//
// The CLI also reads PARLEY_ environment variables, optionally preloaded from a
// .env file in the working directory.
package config
