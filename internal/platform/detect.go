package platform

import (
	"net/http"
	"strings"
)

// Client hint headers sent by Chromium based browsers. Sec-CH-UA-Platform is
// a low-entropy hint and arrives by default; the architecture hints only
// arrive after the server asks for them with Accept-CH.
const (
	HeaderPlatformHint = "Sec-CH-UA-Platform"
	HeaderArchHint     = "Sec-CH-UA-Arch"
	HeaderBitnessHint  = "Sec-CH-UA-Bitness"
)

// AcceptCH lists the hints requested from browsers.
const AcceptCH = "Sec-CH-UA-Platform, Sec-CH-UA-Arch, Sec-CH-UA-Bitness"

var (
	windowsUATokens = []string{"windows"}
	macUATokens     = []string{"macintosh", "mac os x", "darwin"}
	linuxUATokens   = []string{"linux", "x11", "ubuntu", "debian"}
	armUATokens     = []string{"arm64", "aarch64"}
	x64UATokens     = []string{"x86_64", "x64", "amd64", "win64", "wow64", "intel"}
)

// Detect classifies a User-Agent string and a platform hint (the browser's
// navigator.platform, or the Sec-CH-UA-Platform hint). Both may be empty.
//
// The first OS rule that matches wins: windows, then macos, then linux.
// Architecture prefers an explicit ARM marker, then an explicit x86-64
// marker, and otherwise assumes x64 for any recognised desktop OS.
func Detect(userAgent, platformHint string) Platform {
	ua := strings.ToLower(userAgent)
	hint := strings.ToLower(platformHint)

	os := UnknownOS
	switch {
	case strings.Contains(hint, "win") || containsAny(ua, windowsUATokens):
		os = Windows
	case strings.Contains(hint, "mac") || containsAny(ua, macUATokens):
		os = MacOS
	case strings.Contains(hint, "linux") || containsAny(ua, linuxUATokens):
		os = Linux
	}

	arch := UnknownArch
	switch {
	case containsAny(ua, armUATokens) || (strings.Contains(hint, "mac") && strings.Contains(ua, "apple")):
		arch = ARM64
	case containsAny(ua, x64UATokens):
		arch = X64
	case os != UnknownOS:
		arch = X64
	}

	return Platform{OS: os, Arch: arch}
}

// FromRequest detects the platform of an HTTP client.
//
// The ua and platform query parameters take precedence over headers so the
// site can forward navigator values it read in the browser. When the browser
// sent the Sec-CH-UA-Arch hint it replaces the guessed architecture.
func FromRequest(r *http.Request) Platform {
	q := r.URL.Query()

	ua := q.Get("ua")
	if ua == "" {
		ua = r.UserAgent()
	}

	hint := q.Get("platform")
	if hint == "" {
		hint = unquoteHint(r.Header.Get(HeaderPlatformHint))
	}

	p := Detect(ua, hint)
	if !p.IsKnown() {
		return p
	}

	if arch, ok := archFromHints(r.Header.Get(HeaderArchHint), r.Header.Get(HeaderBitnessHint)); ok {
		p.Arch = arch
	}

	return p
}

// archFromHints maps the architecture client hints. A 32-bit bitness hint is
// not decisive since no 32-bit installers are published.
func archFromHints(archHint, bitnessHint string) (Arch, bool) {
	arch := strings.ToLower(unquoteHint(archHint))
	bitness := unquoteHint(bitnessHint)

	if arch == "" || (bitness != "" && bitness != "64") {
		return "", false
	}

	switch arch {
	case "arm":
		return ARM64, true
	case "x86":
		return X64, true
	default:
		return "", false
	}
}

// unquoteHint strips the structured-header quotes from a client hint value.
func unquoteHint(v string) string {
	return strings.Trim(strings.TrimSpace(v), `"`)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
