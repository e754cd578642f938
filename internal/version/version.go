package version

// Set at build time with -ldflags "-X github.com/Norgate-AV/ccsh/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String returns the version line printed by --version
func String() string {
	return Version + " (" + Commit + ") " + BuildTime
}
