package version

// Version is overridden at build time with -ldflags "-X mem-sentinel/core/internal/version.Version=...".
var Version = "dev"
