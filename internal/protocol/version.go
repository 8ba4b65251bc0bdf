package protocol

// SupportedProtocolVersions lists the protocol revisions the server speaks,
// newest first.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// LatestProtocolVersion is the newest supported revision.
func LatestProtocolVersion() string {
	return SupportedProtocolVersions[0]
}

// IsSupported reports whether version is in SupportedProtocolVersions.
func IsSupported(version string) bool {
	for _, v := range SupportedProtocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

// Negotiate picks the revision to answer with. A supported request is
// accepted verbatim; a missing one defaults to the newest. Anything else is
// answered with the newest and matched is false.
func Negotiate(requested string) (version string, matched bool) {
	if requested == "" {
		return LatestProtocolVersion(), true
	}
	if IsSupported(requested) {
		return requested, true
	}
	return LatestProtocolVersion(), false
}
