// Package version carries the release string stamped into builds.
package version

// Version is overridden at link time with -ldflags "-X github.com/cochaviz/boxes/internal/version.Version=...".
var Version = "0.1.0-dev"
