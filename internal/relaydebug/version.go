package relaydebug

import (
	"runtime/debug"
	"strconv"
)

// BuildCommit reports the stamped vcs.revision according to debug.ReadBuildInfo,
// with a " (dirty)" suffix when the working tree had uncommitted changes.
//
// "go run" binaries report "unknown".
func BuildCommit() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown (built without module support?)"
	}

	rev := "unknown"
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if d, err := strconv.ParseBool(s.Value); err == nil {
				dirty = d
			}
		}
	}

	if dirty {
		return rev + " (dirty)"
	}
	return rev
}

// ModuleVersion returns the main module version recorded in the binary.
func ModuleVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" {
		return "(devel)"
	}
	return bi.Main.Version
}
