// Package cli implements loopget, a command line client that finds the right
// Loop installer for a machine using the same proxy-then-GitHub lookup as
// the download page.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"loopweb/internal/github"
	"loopweb/internal/logger"
	"loopweb/internal/release"
	"loopweb/internal/version"

	"github.com/spf13/cobra"
)

const (
	defaultProxy   = "https://loop.example.com"
	defaultRepo    = "maildan/loop"
	defaultTimeout = 10 * time.Second
)

// options are the flags shared by every subcommand.
type options struct {
	proxy     string
	repo      string
	githubAPI string
	timeout   time.Duration
	json      bool
	verbose   bool

	out    io.Writer
	errOut io.Writer
}

// NewRootCmd builds the loopget command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "loopget",
		Short: "Find the Loop installer for this machine",
		Long: `loopget looks up the latest Loop release and picks the installer that
matches an operating system and architecture.

The release is read from the site proxy first and from the public GitHub
API when the proxy is unavailable. When no installer can be picked the
command exits with status 1 and points at the manual download page.`,
		Version:       version.GetInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.proxy, "proxy", defaultProxy, "site origin serving "+release.ProxyPath+" (empty skips the proxy)")
	flags.StringVar(&opts.repo, "repo", defaultRepo, "GitHub repository as owner/name")
	flags.StringVar(&opts.githubAPI, "github-api", github.DefaultBaseURL, "GitHub API base URL")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "timeout for each HTTP request")
	flags.BoolVar(&opts.json, "json", false, "print JSON instead of text")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every lookup step")
	_ = flags.MarkHidden("github-api")

	cmd.AddCommand(newDetectCmd(opts))
	cmd.AddCommand(newLatestCmd(opts))
	cmd.AddCommand(newURLCmd(opts))
	return cmd
}

// Execute runs loopget with args and returns the process exit code.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	cmd := NewRootCmd(out, errOut)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		var manual *manualPickError
		if errors.As(err, &manual) {
			fmt.Fprintln(errOut, "Choose an installer manually at", manual.url)
		}
		return 1
	}
	return 0
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return logger.New(o.errOut, level, "text")
}

func (o *options) ownerRepo() (string, string, error) {
	owner, repo, ok := strings.Cut(o.repo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid --repo %q, expected owner/name", o.repo)
	}
	return owner, repo, nil
}

func (o *options) fetcher() (*release.Fetcher, error) {
	owner, repo, err := o.ownerRepo()
	if err != nil {
		return nil, err
	}

	f := release.NewFetcher(o.proxy, owner, repo, o.timeout)
	f.Upstream.BaseURL = o.githubAPI
	f.Upstream.UserAgent = version.GetInfo().UserAgent("loopget")
	f.Logger = o.logger()
	return f, nil
}

// manualURL is where a user picks an installer by hand.
func (o *options) manualURL() string {
	if owner, repo, err := o.ownerRepo(); err == nil {
		return fmt.Sprintf("https://github.com/%s/%s/releases/latest", owner, repo)
	}
	return strings.TrimRight(o.proxy, "/")
}

func (o *options) printJSON(v interface{}) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// manualPickError marks failures the user resolves by picking an installer
// by hand.
type manualPickError struct {
	err error
	url string
}

func (e *manualPickError) Error() string { return e.err.Error() }

func (e *manualPickError) Unwrap() error { return e.err }
