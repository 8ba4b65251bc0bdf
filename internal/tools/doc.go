// Package tools defines the tool catalogue the protocol server consumes.
//
// A host exposes its operations through the Registry interface: a list of
// enabled descriptors, lookup by name, and execution with flattened string
// arguments. MemoryRegistry is the in-process implementation hosts register
// into; Instrument decorates any Registry with metrics, tracing and audit
// logging.
//
// Descriptors are projected into MCP tool definitions with a JSON Schema
// inputSchema. Internal descriptors are callable by the host but never listed
// to clients.
package tools
