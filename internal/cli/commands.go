package cli

import (
	"errors"
	"fmt"
	"runtime"

	"loopweb/internal/models"
	"loopweb/internal/platform"
	"loopweb/internal/release"

	"github.com/spf13/cobra"
)

type detectResult struct {
	OS       string     `json:"os"`
	Arch     string     `json:"arch"`
	Patterns [][]string `json:"patterns"`
}

func newDetectCmd(opts *options) *cobra.Command {
	var ua, hint string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Print the detected platform",
		Long: `Print the platform loopget would download for. Without flags this is
the current machine. With --ua or --platform the values are classified the
way the download page classifies a browser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := platform.FromRuntime(runtime.GOOS, runtime.GOARCH)
			if ua != "" || hint != "" {
				p = platform.Detect(ua, hint)
			}

			result := detectResult{OS: string(p.OS), Arch: string(p.Arch), Patterns: [][]string{}}
			for _, pattern := range release.Patterns(p) {
				result.Patterns = append(result.Patterns, []string(pattern))
			}

			if opts.json {
				return opts.printJSON(result)
			}

			fmt.Fprintf(opts.out, "os:   %s\n", result.OS)
			fmt.Fprintf(opts.out, "arch: %s\n", result.Arch)
			for _, pattern := range release.Patterns(p) {
				fmt.Fprintf(opts.out, "  %s\n", pattern)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ua, "ua", "", "User-Agent string to classify")
	cmd.Flags().StringVar(&hint, "platform", "", "navigator.platform value to classify")
	return cmd
}

func newLatestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the latest release and its assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetcher, err := opts.fetcher()
			if err != nil {
				return err
			}

			data := fetcher.FetchLatest(cmd.Context())
			if data == nil {
				return &manualPickError{err: release.ErrNoRelease, url: opts.manualURL()}
			}

			if opts.json {
				return opts.printJSON(data)
			}
			printRelease(opts, data)
			return nil
		},
	}
}

type urlResult struct {
	URL      string `json:"url"`
	Asset    string `json:"asset"`
	Version  string `json:"version"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Fallback bool   `json:"fallback"`
}

func newURLCmd(opts *options) *cobra.Command {
	var osName, arch string

	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the download URL of the installer",
		Long: `Print the download URL of the installer for this machine, or for the
system given with --os and --arch. Exits with status 1 when the system is
not supported or no release can be found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := platform.FromRuntime(runtime.GOOS, runtime.GOARCH)
			if osName != "" {
				parsed, err := platform.Parse(osName, arch)
				if err != nil {
					return err
				}
				p = parsed
			} else if arch != "" {
				return errors.New("--arch requires --os")
			}

			fetcher, err := opts.fetcher()
			if err != nil {
				return err
			}

			res, err := release.Resolve(cmd.Context(), fetcher, p)
			if err != nil {
				return &manualPickError{err: err, url: opts.manualURL()}
			}

			if res.Selection.Fallback() {
				fetcher.Logger.Warn("No installer matched, using the first asset",
					"platform", p.String(),
					"asset", res.Selection.Asset.Name)
			}

			if opts.json {
				return opts.printJSON(urlResult{
					URL:      res.URL(),
					Asset:    res.Selection.Asset.Name,
					Version:  res.Release.Version,
					OS:       string(p.OS),
					Arch:     string(p.Arch),
					Fallback: res.Selection.Fallback(),
				})
			}
			fmt.Fprintln(opts.out, res.URL())
			return nil
		},
	}

	cmd.Flags().StringVar(&osName, "os", "", "operating system: windows, macos or linux")
	cmd.Flags().StringVar(&arch, "arch", "", "architecture: x64 or arm64 (default x64)")
	return cmd
}

func printRelease(opts *options, data *models.ReleaseData) {
	title := data.Version
	if data.Name != "" && data.Name != data.Version {
		title = fmt.Sprintf("%s (%s)", data.Version, data.Name)
	}
	fmt.Fprintln(opts.out, title)
	if data.PublishedAt != "" {
		fmt.Fprintf(opts.out, "published: %s\n", data.PublishedAt)
	}
	if len(data.Assets) == 0 {
		fmt.Fprintln(opts.out, "no assets")
		return
	}
	for _, a := range data.Assets {
		fmt.Fprintf(opts.out, "  %-40s %10d  %s\n", a.Name, a.Size, a.URL)
	}
}
