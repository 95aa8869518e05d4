// Package cmd implements the command-line interface for the hexmirror
// package registry. It provides a hierarchical command structure for
// running the server and benchmarking the catalog.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the registry server
//   - cluster: Operator commands for cluster membership
//   - perf: Benchmarking tool for the embedded catalog
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See hexmirror -help for a list of all commands.
package cmd
