// Package release picks the installer that fits a visitor's platform out of
// the latest published release, and fetches that release through the site
// proxy with the GitHub API as a fallback.
package release

import (
	"log/slog"
	"strings"

	"loopweb/internal/models"
	"loopweb/internal/platform"
)

// Pattern is a list of lowercase substrings that must all occur in a
// lowercased asset name.
type Pattern []string

// matches reports whether every token occurs in name, which must already be
// lowercase.
func (p Pattern) matches(name string) bool {
	for _, token := range p {
		if !strings.Contains(name, token) {
			return false
		}
	}
	return true
}

func (p Pattern) String() string {
	return strings.Join(p, "+")
}

// Pattern tables, most specific first. Disk images beat archives on macOS,
// installers beat bare executables on Windows, and AppImage beats deb on Linux.
var (
	macARM64Patterns = []Pattern{
		{"mac", "arm64", ".dmg"},
		{"mac", "arm", ".dmg"},
		{"macos", "arm64", ".dmg"},
		{".dmg", "arm64"},
		{".dmg", "mac"},
		{"mac", "arm64", ".zip"},
		{"mac", "arm", ".zip"},
		{".zip", "arm64", "mac"},
		{".zip", "mac"},
	}

	macX64Patterns = []Pattern{
		{"mac", "x64", ".dmg"},
		{"mac", "intel", ".dmg"},
		{"macos", "x64", ".dmg"},
		{".dmg", "x64"},
		{".dmg", "mac"},
		{"mac", "x64", ".zip"},
		{"mac", "intel", ".zip"},
		{".zip", "x64", "mac"},
		{".zip", "mac"},
	}

	windowsPatterns = []Pattern{
		{"web", "setup", ".exe"},
		{"setup", ".exe"},
		{"-setup-", ".exe"},
		{"win", "setup", ".exe"},
		{"windows", "setup", ".exe"},
		{"win", ".exe"},
		{"windows", ".exe"},
		{".exe"},
		{"win", "x64", ".zip"},
		{"windows", "x64", ".zip"},
		{".zip", "win"},
		{".zip", "windows"},
	}

	linuxPatterns = []Pattern{
		{".appimage"},
		{"linux", ".appimage"},
		{".deb"},
		{"linux", ".deb"},
		{".tar.gz", "linux"},
		{".zip", "linux"},
	}
)

// Patterns returns the ordered patterns tried for p. An unknown OS has none.
// Every macOS architecture other than arm64 uses the Intel table.
func Patterns(p platform.Platform) []Pattern {
	var table []Pattern
	switch p.OS {
	case platform.MacOS:
		if p.Arch == platform.ARM64 {
			table = macARM64Patterns
		} else {
			table = macX64Patterns
		}
	case platform.Windows:
		table = windowsPatterns
	case platform.Linux:
		table = linuxPatterns
	default:
		return nil
	}

	out := make([]Pattern, len(table))
	for i, pattern := range table {
		out[i] = append(Pattern(nil), pattern...)
	}
	return out
}

// Selection is the outcome of matching assets against a platform.
type Selection struct {
	Asset models.ReleaseAsset
	// Pattern is the pattern that matched. It is nil when no pattern matched
	// and the first asset was taken as a last resort.
	Pattern Pattern
}

// Fallback reports whether the asset was chosen without any pattern match.
func (s Selection) Fallback() bool {
	return s.Pattern == nil
}

// Match walks the patterns for p in priority order and, for each pattern,
// the assets in feed order. The first asset satisfying a pattern wins. When
// nothing matches the first asset is returned; ok is false for an empty asset
// list or when that first asset has no URL.
func Match(assets []models.ReleaseAsset, p platform.Platform) (Selection, bool) {
	if len(assets) == 0 {
		return Selection{}, false
	}

	lowered := make([]string, len(assets))
	for i, a := range assets {
		lowered[i] = strings.ToLower(a.Name)
	}

	for _, pattern := range Patterns(p) {
		for i, name := range lowered {
			if pattern.matches(name) {
				return Selection{Asset: assets[i], Pattern: pattern}, true
			}
		}
	}

	if assets[0].URL == "" {
		return Selection{}, false
	}
	return Selection{Asset: assets[0]}, true
}

// Select returns the download URL of the best asset for p. ok is false when
// no asset with a URL can be chosen.
func Select(assets []models.ReleaseAsset, p platform.Platform) (string, bool) {
	sel, ok := Match(assets, p)
	if !ok {
		slog.Warn("No release assets available", "platform", p.String())
		return "", false
	}
	slog.Debug("Selected release asset", "platform", p.String(), "asset", sel.Asset.Name, "pattern", sel.Pattern.String())
	return sel.Asset.URL, true
}
