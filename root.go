package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bsdl/bplist"
	"bsdl/config"
	"bsdl/console"
	"bsdl/fetch"
	"bsdl/fileutil"
	"bsdl/plan"
	"bsdl/run"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// lockName is the advisory lock file created inside the output directory.
// It keeps two runs from racing each other's .part files.
const lockName = ".bsdl.lock"

// rootOptions holds flag values. Only flags the user actually set override
// the config file; zero values here mean "not given".
type rootOptions struct {
	configPath  string
	outputRoot  string
	jobs        int
	maxAttempts int
	backoff     float64
	backoffCap  float64
	cdnBase     string
	force       bool
	quiet       bool
	verbose     bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bsdl <playlist.bplist>",
		Short: "Download the songs of a BeatSaver playlist",
		Long: `bsdl reads a .bplist playlist file, creates a directory named after the
playlist, and downloads every song archive that is not already in it.
Songs already present are skipped, so rerunning resumes an aborted run.`,
		Args:          cobra.ExactArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runPlaylist(ctx, cfg, args[0], opts.force)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.config/bsdl/config.toml)")
	fl.StringVarP(&opts.outputRoot, "output", "o", "", "directory the playlist directory is created in")
	fl.IntVarP(&opts.jobs, "jobs", "j", 0, "number of parallel downloads")
	fl.IntVar(&opts.maxAttempts, "max-attempts", 0, "tries per song before giving up")
	fl.Float64Var(&opts.backoff, "backoff", 0, "seconds to wait before the second attempt")
	fl.Float64Var(&opts.backoffCap, "backoff-cap", 0, "upper bound in seconds on any retry delay")
	fl.StringVar(&opts.cdnBase, "cdn", "", "base URL song archives are fetched from")
	fl.BoolVar(&opts.force, "force-redownload", false, "download songs even when already present")
	fl.BoolVarP(&opts.quiet, "quiet", "q", false, "only print failures and the final summary")
	fl.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// loadConfig resolves the effective configuration: config file (or defaults)
// first, then explicit command-line flags on top.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, path, found, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if found {
		log.Debugf("using config file: %s", path)
	}

	fl := cmd.Flags()
	if fl.Changed("output") {
		expanded, err := config.ExpandPath(opts.outputRoot)
		if err != nil {
			return nil, err
		}
		cfg.OutputRoot = expanded
	}
	if fl.Changed("jobs") {
		cfg.Jobs = opts.jobs
	}
	if fl.Changed("max-attempts") {
		cfg.MaxAttempts = opts.maxAttempts
	}
	if fl.Changed("backoff") {
		cfg.BackoffSeconds = opts.backoff
	}
	if fl.Changed("backoff-cap") {
		cfg.BackoffCapSeconds = opts.backoffCap
	}
	if fl.Changed("cdn") {
		cfg.CDNBase = strings.TrimRight(opts.cdnBase, "/")
	}
	if opts.quiet {
		cfg.Quiet = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runPlaylist is the whole pipeline: parse the manifest, plan the output
// directory, lock it, fetch what is missing, and report.
func runPlaylist(ctx context.Context, cfg *config.Config, manifestPath string, force bool) error {
	cons := console.New(console.Options{Quiet: cfg.Quiet})
	cons.Header(manifestPath)

	pl, err := bplist.ParseFile(manifestPath, cfg.CDNBase)
	if err != nil {
		return err
	}
	for _, w := range pl.Warnings {
		log.Warnf("manifest: %s", w)
	}
	cons.PlaylistInfo(pl)

	dir := plan.OutputDir(cfg.OutputRoot, pl.Title)
	if err := plan.Ensure(dir); err != nil {
		return err
	}
	cons.OutputDir(dir)

	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return &plan.FilesystemError{Path: lock.Path(), Err: err}
	}
	if !locked {
		return &plan.FilesystemError{
			Path: dir,
			Err:  errors.New("another bsdl run is already using this directory"),
		}
	}
	defer func() {
		_ = lock.Unlock()
	}()

	manifestCopy := copyManifest(cons, manifestPath, dir)
	coverPath := writeEmbeddedCover(cons, pl, dir)

	p, err := plan.Build(pl, dir, force)
	if err != nil {
		return err
	}
	cons.PlanStatus(p, force)

	fetcher := fetch.New(fetch.Config{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase(),
		BackoffCap:  cfg.BackoffCap(),
		UserAgent:   cfg.UserAgent,
	})

	cons.BeginRun(len(p.Entries))
	r := run.New(fetcher, cons, cfg.Jobs).Run(ctx, pl, p)
	r.ManifestCopy = manifestCopy
	if r.CoverPath == "" {
		r.CoverPath = coverPath
	}

	switch {
	case r.Cancelled:
		return errInterrupted
	case r.Failed > 0:
		return &downloadError{failed: r.Failed}
	}
	return nil
}

// copyManifest puts a copy of the playlist file next to the songs so the
// directory stays self-describing. Failure is a warning, not fatal.
func copyManifest(cons *console.Console, manifestPath, dir string) string {
	dst := filepath.Join(dir, filepath.Base(manifestPath))
	if fileutil.SameFile(manifestPath, dst) {
		return ""
	}
	if err := fileutil.CopyFile(manifestPath, dst); err != nil {
		log.WithError(err).Warnf("failed to copy playlist file: %s", dst)
		return ""
	}
	cons.ManifestCopied(dst)
	return dst
}

// writeEmbeddedCover saves a cover image embedded in the manifest. Covers
// referenced by url are downloaded with the songs instead.
func writeEmbeddedCover(cons *console.Console, pl *bplist.Playlist, dir string) string {
	if len(pl.Cover.Data) == 0 {
		return ""
	}
	path, err := plan.WriteCover(dir, pl.Cover.Data)
	if err != nil {
		log.WithError(err).Warn("failed to save cover image")
		return ""
	}
	cons.CoverSaved(path)
	return path
}
