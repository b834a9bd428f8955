// Package version holds build metadata injected via ldflags:
//
//	go build -ldflags "-X .../internal/version.Version=v0.3.0 \
//	  -X .../internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
