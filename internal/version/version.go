// Package version carries build metadata set through -ldflags -X.
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
