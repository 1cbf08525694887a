package version

// Build metadata, overridden at link time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
