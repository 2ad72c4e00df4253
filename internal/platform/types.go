// Package platform works out which desktop operating system and CPU
// architecture a visitor is on, so the right installer can be offered.
//
// Detection is pure string matching over the User-Agent and the platform
// hint a browser exposes. It never fails: anything it cannot classify comes
// back as unknown and callers fall back to a manual picker.
package platform

// OS is a desktop operating system the app ships installers for.
type OS string

// Arch is a CPU architecture the app ships installers for.
type Arch string

const (
	Windows   OS = "windows"
	MacOS     OS = "macos"
	Linux     OS = "linux"
	UnknownOS OS = "unknown"
)

const (
	ARM64       Arch = "arm64"
	X64         Arch = "x64"
	UnknownArch Arch = "unknown"
)

// Platform is the detected (os, arch) pair. It is derived per request and
// never persisted.
type Platform struct {
	OS   OS   `json:"os"`
	Arch Arch `json:"arch"`
}

// Unknown is returned when nothing could be detected.
var Unknown = Platform{OS: UnknownOS, Arch: UnknownArch}

// IsKnown reports whether the OS was recognised. Asset selection only applies
// platform patterns when it was.
func (p Platform) IsKnown() bool {
	return p.OS == Windows || p.OS == MacOS || p.OS == Linux
}

func (p Platform) String() string {
	return string(p.OS) + "/" + string(p.Arch)
}
