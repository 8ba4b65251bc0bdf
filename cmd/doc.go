// Package cmd implements the command-line interface for hostmcp.
//
// This package provides the following commands:
//   - serve: Run the demo host with the MCP server attached
//   - config: Show or change the persisted server configuration
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for the demo tools
//
// The serve command is the default command when no subcommand is specified.
package cmd
