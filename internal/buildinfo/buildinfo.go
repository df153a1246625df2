// Package buildinfo carries the rtx build identity, stamped by the linker:
//
//	go build -ldflags "-X rtx/internal/buildinfo.Version=v0.3.0 -X rtx/internal/buildinfo.Commit=$(git rev-parse HEAD)"
package buildinfo

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the source revision.
	Commit = "unknown"
	// Date is the build date.
	Date = "unknown"
)

const shortCommit = 12

// Short names the build in one word for the boot banner: the release tag,
// else the abbreviated commit, else "dev".
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		if len(Commit) > shortCommit {
			return Commit[:shortCommit]
		}
		return Commit
	}
	return "dev"
}

// String is the full identity printed by -version.
func String() string {
	return fmt.Sprintf("rtx %s (commit %s, built %s)", Version, Commit, Date)
}
