// Package misc keeps build time information.
package misc

import (
	"path/filepath"
	"runtime/debug"
	"strings"
)

// set by linker: -X fbm/misc.version=... -X fbm/misc.gitHash=...
var (
	version = "dev"
	gitHash = ""
	appName = ""
)

func GetVersion() string {
	return version
}

// GetGitHash returns commit hash program was built from. When not provided by
// linker, module build information is consulted.
func GetGitHash() string {
	if len(gitHash) > 0 {
		return gitHash
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// GetAppName returns program name without path and extension.
func GetAppName() string {
	if len(appName) > 0 {
		return appName
	}
	if info, ok := debug.ReadBuildInfo(); ok && len(info.Path) > 0 {
		return strings.TrimSuffix(filepath.Base(info.Path), filepath.Ext(info.Path))
	}
	return "fbm"
}
