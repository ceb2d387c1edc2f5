package domain

import "time"

// ArtifactKey is the logical address of an artifact; versions live underneath it
type ArtifactKey struct {
	AppName   string
	UserID    string
	SessionID string
	Filename  string
}

// Artifact is one stored version of a logical key
type Artifact struct {
	Key       ArtifactKey
	Version   int
	MimeType  string
	Payload   []byte
	Timestamp time.Time
}

// PathConvention names one of the physical layouts an artifact can be stored under
type PathConvention string

const (
	// PathConventionSessionScoped - {app}/{user}/{session}/{filename}/{version}
	PathConventionSessionScoped PathConvention = "session_scoped"
	// PathConventionLegacyFlat - {app}/{user}/{filename}/v{version}
	PathConventionLegacyFlat PathConvention = "legacy_flat"
)

// LatestStrategy selects how "the latest version" of a key is located
type LatestStrategy int

const (
	// LatestByMaxVersion scans every stored version and picks the highest
	LatestByMaxVersion LatestStrategy = iota
	// LatestBySentinel reads the backend runtime's fixed "latest" pointer first,
	// then falls back to LatestByMaxVersion
	LatestBySentinel
)

// SentinelVersion is the version the backend runtime writes its latest copy under
const SentinelVersion = 0

func (s LatestStrategy) String() string {
	switch s {
	case LatestBySentinel:
		return "sentinel"
	default:
		return "max_version"
	}
}
