package version

// Version is stamped at build time:
// go build -ldflags "-X git.home.luguber.info/inful/buildwatch/internal/version.Version=v0.3.0".
var Version = "unknown"

// Build metadata, stamped the same way.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)
