// Package cmd implements the command-line interface for piebus. It provides
// a hierarchical command structure with operations for running a node and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a piebus node
//   - user: Commands for registering users and checking credentials
//   - pref: Commands for reading and writing preferences
//   - frame: Commands for creating, listing, searching and publishing frames
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// The binary lives in cmd/piebus. See piebus -help for a list of all commands.
package cmd
