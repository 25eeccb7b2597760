// Command pagefetch loads one page in a headless browser and prints what it
// captured: the rendered HTML, or a JSON line with the headers, status code
// and cookies of the response for the requested URL.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/pagefetch/cleaner"
	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/engine"
	"github.com/use-agent/pagefetch/fetcher"
	"github.com/use-agent/pagefetch/logging"
	"github.com/use-agent/pagefetch/models"
	"github.com/use-agent/pagefetch/output"
)

type options struct {
	engine    string
	format    string
	selector  string
	stealth   bool
	logLevel  string
	logFormat string

	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case models.IsUsage(err):
		slog.Error("invalid arguments", "error", err)
		fmt.Fprintln(stdout, usage)
	case models.IsNetwork(err):
		slog.Error("navigation failed", "error", err)
		fmt.Fprintln(stdout, output.NetworkFailure)
	default:
		slog.Error("fetch failed", "error", err)
	}
	return 1
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "pagefetch [flags] <url> [<charset> <userAgent> <cookie> <delay> <timeout> [<postdata>]]",
		Short: "Load a page in a headless browser and capture its response",
		Long: `pagefetch navigates a headless browser to a URL and captures the status
code and headers of the response for exactly that URL, the page's cookies
after a settle delay, and the rendered HTML.

With only <url> it prints the rendered page. With six arguments it prints one
JSON line {"Header","Code","Cookie","Body"} encoded in <charset>; a seventh
argument turns the navigation into a POST carrying <postdata>.

Flags must come before <url>.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.fetch(cmd.Context(), args)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return models.UsageError("%v", err)
	})

	f := cmd.Flags()
	// Post data may start with '-', so everything after the URL is positional.
	f.SetInterspersed(false)
	f.StringVar(&o.engine, "engine", "", "fetch backend: rod, chromedp or http (default $PAGEFETCH_ENGINE or rod)")
	f.StringVar(&o.format, "format", "", "convert the body: html, article, markdown or text")
	f.StringVar(&o.selector, "selector", "", "keep only the elements matching this CSS selector")
	f.BoolVar(&o.stealth, "stealth", false, "hide common headless-browser fingerprints")
	f.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (default $PAGEFETCH_LOG_LEVEL or info)")
	f.StringVar(&o.logFormat, "log-format", "", "text or json (default $PAGEFETCH_LOG_FORMAT or text)")
	return cmd
}

func (o *options) fetch(ctx context.Context, args []string) error {
	cfg := config.Load()
	o.initLogging(cfg.Log)

	if !cleaner.ValidFormat(o.format) {
		return models.UsageError("unknown format %q, want one of %v", o.format, cleaner.Formats)
	}
	req, jsonLine, err := parseArgs(args)
	if err != nil {
		return err
	}
	req.Stealth = o.stealth

	name := o.engine
	if name == "" {
		name = cfg.Fetch.Engine
	}
	// One fetch per process, one page.
	cfg.Browser.MaxPages = 1
	backends := fetcher.RegisterBackends(cfg.Browser)
	defer backends.Close()

	eng, err := engine.New(name)
	if err != nil {
		return err
	}

	slog.Info("fetching", "url", req.URL, "method", req.Method, "engine", eng.Name())
	start := time.Now()
	res, err := eng.Fetch(ctx, req)
	if err != nil {
		return err
	}
	slog.Info("fetched",
		"url", req.URL,
		"status", res.Code,
		"headers", len(res.Header),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if o.format != "" || o.selector != "" {
		body, err := cleaner.NewCleaner().Convert(res.Body, req.URL, o.format, o.selector)
		if err != nil {
			return err
		}
		res.Body = body
	}

	if !jsonLine {
		return output.WriteBody(o.stdout, res.Body)
	}
	w, err := output.NewWriter(o.stdout, req.Charset)
	if err != nil {
		return err
	}
	if err := output.WriteJSON(w, res); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// initLogging sends logs to stderr. Flags win over the environment; the
// format defaults to text.
func (o *options) initLogging(cfg config.LogConfig) {
	if o.logLevel != "" {
		cfg.Level = o.logLevel
	}
	switch {
	case o.logFormat != "":
		cfg.Format = o.logFormat
	case os.Getenv("PAGEFETCH_LOG_FORMAT") == "":
		cfg.Format = "text"
	}
	logging.Init(cfg, o.stderr)
}
