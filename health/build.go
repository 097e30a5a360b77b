package health

import (
	"os"
	"runtime"
	"runtime/debug"
)

// buildVersion prefers BUILD_VERSION, then the module version and VCS
// revision stamped by the toolchain.
func buildVersion() string {
	if version := os.Getenv("BUILD_VERSION"); version != "" {
		return version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev " + runtime.Version()
	}

	version := info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			revision := setting.Value
			if len(revision) > 7 {
				revision = revision[:7]
			}
			version += "-" + revision
		}
	}

	return version + " " + info.GoVersion
}
