// Package version provides the application version.
package version

// Version is the application version, overridden at build time with:
//
//	go build -ldflags "-X github.com/rcsb/rcsb-pdb-chatbot/internal/version.Version=x.y.z"
var Version = "dev"
