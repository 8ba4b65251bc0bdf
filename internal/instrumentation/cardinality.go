package instrumentation

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// # Warning
//
// Method names and session ids arrive from the network. Recording them
// verbatim lets any client create unbounded time series, so always pass them
// through these helpers first.

// MethodOther is the label used for methods outside the known set.
const MethodOther = "other"

// knownMethods is the closed set of JSON-RPC method labels.
var knownMethods = map[string]bool{
	"initialize":                true,
	"initialized":               true,
	"notifications/initialized": true,
	"notifications/cancelled":   true,
	"tools/list":                true,
	"tools/call":                true,
	"ping":                      true,
}

// NormalizeMethod maps a JSON-RPC method to a bounded label value.
//
// Example:
//
//	NormalizeMethod("tools/call")      // "tools/call"
//	NormalizeMethod("resources/list")  // "other"
//	NormalizeMethod("")                // "other"
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return MethodOther
}

// ShortSession truncates a session id to its first eight characters.
func ShortSession(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}
