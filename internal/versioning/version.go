package versioning

import (
	"fmt"
	"regexp"
	"strconv"
)

// APIVersion is the semantic version of the HTTP API, independent of the
// build version of the binary.
type APIVersion struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

func (v APIVersion) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	return version
}

// Compare returns -1, 0 or 1. A release sorts after its prereleases.
func (v APIVersion) Compare(other APIVersion) int {
	if c := compareInt(v.Major, other.Major); c != 0 {
		return c
	}
	if c := compareInt(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := compareInt(v.Patch, other.Patch); c != 0 {
		return c
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var (
	V1_0_0 = APIVersion{Major: 1, Minor: 0, Patch: 0}
	V1_1_0 = APIVersion{Major: 1, Minor: 1, Patch: 0}
)

// CurrentVersion is the version this server implements. 1.1.0 added the
// notification stream and encrypted backups.
var CurrentVersion = V1_1_0

var MinimumSupportedVersion = V1_0_0

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([a-zA-Z0-9\-\.]+))?$`)

// ParseVersion accepts "1", "1.1" and full semantic versions.
func ParseVersion(versionStr string) (APIVersion, error) {
	switch countDots(versionStr) {
	case 0:
		versionStr += ".0.0"
	case 1:
		versionStr += ".0"
	}

	matches := versionPattern.FindStringSubmatch(versionStr)
	if matches == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", versionStr)
	}

	parts := make([]int, 3)
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component %q: %w", matches[i+1], err)
		}
		parts[i] = n
	}

	return APIVersion{Major: parts[0], Minor: parts[1], Patch: parts[2], Prerelease: matches[4]}, nil
}

func countDots(s string) int {
	n := 0
	for _, r := range s {
		if r == '-' {
			break
		}
		if r == '.' {
			n++
		}
	}
	return n
}

// IsVersionSupported reports whether a client asking for version can be
// served: it must not predate the minimum nor ask for a newer major or a
// newer minor than the server implements.
func IsVersionSupported(version APIVersion) bool {
	if version.Compare(MinimumSupportedVersion) < 0 {
		return false
	}
	if version.Major != CurrentVersion.Major {
		return false
	}
	return version.Minor <= CurrentVersion.Minor
}

// GetVersionRange returns the supported range as "min - current".
func GetVersionRange() string {
	return fmt.Sprintf("%s - %s", MinimumSupportedVersion, CurrentVersion)
}
