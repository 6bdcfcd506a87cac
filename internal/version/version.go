// Package version reports the storefront client version.
//
// Commit is stamped with -ldflags "-X .../internal/version.Commit=<sha>";
// without it the VCS revision recorded by the Go toolchain is used.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Commit is the git commit of this build.
var Commit string

const (
	major = 0
	minor = 4
	patch = 0

	// preRelease may only use [0-9A-Za-z-].
	preRelease = "beta"
)

// Version returns the semantic version.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if pre := sanitize(preRelease); pre != "" {
		v += "-" + pre
	}
	return v
}

// Full returns the version followed by the commit, when known.
func Full() string {
	commit := commit()
	if commit == "" {
		return Version()
	}
	return fmt.Sprintf("%s commit=%s", Version(), commit)
}

// UserAgent is sent with every REST request.
func UserAgent() string {
	return "storefront-cli/" + Version()
}

func commit() string {
	if c := strings.TrimSpace(Commit); c != "" {
		return c
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return ""
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
