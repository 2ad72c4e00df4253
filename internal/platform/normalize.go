package platform

import (
	"fmt"
	"strings"
)

// osAliases maps user supplied and runtime OS names onto OS values.
var osAliases = map[string]OS{
	"windows": Windows,
	"win":     Windows,
	"win32":   Windows,
	"win64":   Windows,
	"macos":   MacOS,
	"mac":     MacOS,
	"osx":     MacOS,
	"darwin":  MacOS,
	"linux":   Linux,
}

// archAliases maps user supplied and runtime architecture names onto Arch values.
var archAliases = map[string]Arch{
	"arm64":   ARM64,
	"aarch64": ARM64,
	"arm":     ARM64,
	"x64":     X64,
	"amd64":   X64,
	"x86_64":  X64,
	"intel":   X64,
}

// Parse validates an explicit choice such as the one made in the manual
// download picker. An empty arch defaults to x64, matching what detection
// assumes for desktop systems.
func Parse(os, arch string) (Platform, error) {
	o, ok := osAliases[normalize(os)]
	if !ok {
		return Unknown, fmt.Errorf("unsupported operating system: %q", os)
	}

	if normalize(arch) == "" {
		return Platform{OS: o, Arch: X64}, nil
	}

	a, ok := archAliases[normalize(arch)]
	if !ok {
		return Unknown, fmt.Errorf("unsupported architecture: %q", arch)
	}

	return Platform{OS: o, Arch: a}, nil
}

// FromRuntime maps Go's runtime.GOOS and runtime.GOARCH values. Systems the
// app does not ship for come back as unknown.
func FromRuntime(goos, goarch string) Platform {
	p := Unknown

	switch goos {
	case "windows":
		p.OS = Windows
	case "darwin":
		p.OS = MacOS
	case "linux":
		p.OS = Linux
	}

	switch goarch {
	case "amd64":
		p.Arch = X64
	case "arm64":
		p.Arch = ARM64
	}

	return p
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
