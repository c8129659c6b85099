package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sandeepkandula/poosh/cache"
	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/report"
	"github.com/sandeepkandula/poosh/source"
	"github.com/sandeepkandula/poosh/sync"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "poosh [upload|sync]",
		Short: "Deploy a local directory to a remote store",
		Example: `  poosh --read-only remote --force cache
  poosh sync -v`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, sync.CommandUpload)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringSliceP("plugins", "w", nil, "comma separated plugins")
	flags.StringP("read-only", "r", "", "read-only mode, can be remote, cache or both (default)")
	flags.Lookup("read-only").NoOptDefVal = "both"
	flags.BoolP("dry-run", "n", false, "perform a trial run with no changes made (same as --read-only both)")
	flags.StringP("force", "f", "", "force mode, can be remote, cache or both (default)")
	flags.Lookup("force").NoOptDefVal = "both"
	flags.StringP("env", "e", "", "poosh environment key")
	flags.CountP("verbose", "v", "get more detailed output on every file")
	flags.BoolP("quiet", "q", false, "quiet operations")
	flags.StringP("config", "c", "", "configuration file (default .poosh.{yaml,json,toml})")

	rootCmd.AddCommand(newCommandCmd("upload", "Publish new and changed files (default command)", sync.CommandUpload))
	rootCmd.AddCommand(newCommandCmd("sync", "Publish new and changed files and delete remote files missing locally", sync.CommandSync))
	return rootCmd
}

func newCommandCmd(use, short string, command sync.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, command)
		},
	}
}

func main() {
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	rootCmd.SetArgs(targetArgs(os.Args[1:]))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("poosh failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func setupLogger(verbosity int) {
	level := slog.LevelInfo
	if verbosity >= 2 {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}

var (
	targetFlags = []string{"-r", "--read-only", "-f", "--force"}
	targetWords = []string{"remote", "cache", "both"}
)

// targetArgs joins a target given as a separate word to its flag, so that
// "-r remote" reads like "-r=remote" while a bare "-r" still means both.
func targetArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if slices.Contains(targetFlags, arg) && i+1 < len(args) {
			if slices.Contains(targetWords, strings.ToLower(args[i+1])) {
				out = append(out, arg+"="+args[i+1])
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

// overrides turns the command line flags into the highest priority layer.
func overrides(cmd *cobra.Command) (config.Layer, error) {
	flags := cmd.Flags()
	layer := config.Layer{}

	if flags.Changed("plugins") {
		plugins, err := flags.GetStringSlice("plugins")
		if err != nil {
			return nil, err
		}
		layer["plugins"] = plugins
	}
	if flags.Changed("read-only") {
		v, _ := flags.GetString("read-only")
		layer["readonly"] = v
	}
	if flags.Changed("force") {
		v, _ := flags.GetString("force")
		layer["force"] = v
	}
	// may override --read-only
	if dry, _ := flags.GetBool("dry-run"); dry {
		layer["readonly"] = "both"
	}
	return layer, nil
}

func run(cmd *cobra.Command, command sync.Command) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	verbosity, _ := flags.GetCount("verbose")
	quiet, _ := flags.GetBool("quiet")
	configPath, _ := flags.GetString("config")
	env, _ := flags.GetString("env")
	setupLogger(verbosity)

	over, err := overrides(cmd)
	if err != nil {
		return err
	}
	layer, used, err := config.Load(configPath)
	if err != nil {
		return err
	}
	opts, err := config.Normalize(layer, used, env, over)
	if err != nil {
		return err
	}
	// options are valid, usage help is no longer useful
	cmd.SilenceUsage = true
	slog.Debug("options loaded", "config", used, "env", env, "plugin", opts.Plugin(), "baseDir", opts.BaseDir)

	dest, err := newDestination(ctx, opts)
	if err != nil {
		return err
	}

	store, err := openCache(opts, dest.BaseDestination())
	if err != nil {
		return err
	}
	defer store.Close()

	tree, err := source.NewTree(opts.BaseDir, ignoreLines(opts), opts.Each)
	if err != nil {
		return err
	}

	var listener sync.Listener
	var logger *report.Logger
	if !quiet {
		logger = report.NewLogger(os.Stdout, opts.Policy, verbosity, isatty.IsTerminal(os.Stdout.Fd()))
		logger.Warnings()
		listener = logger.Listen
	}

	engine := sync.New(dest, store, tree, opts.Policy, opts.Concurrency, listener)
	stats, err := engine.Run(ctx, command)
	if logger != nil {
		logger.Finish(stats)
	}
	return err
}

type closableStore interface {
	cache.Store
	Close() error
}

// lockedStore releases the cache lock file when closed.
type lockedStore struct {
	*cache.BoltStore
	lock *flock.Flock
}

func (s *lockedStore) Close() error {
	return errors.Join(s.BoltStore.Close(), s.lock.Unlock())
}

// openCache opens the snapshot store. A writable cache is guarded by a lock
// file; a read-only one is opened without touching the disk.
func openCache(opts *config.Options, namespace string) (closableStore, error) {
	if !opts.Policy.WriteCache() {
		store, err := cache.OpenBoltReadOnly(opts.Cache.Path, namespace)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.Cache.Path), 0755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	lock := flock.New(opts.Cache.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("another poosh run holds %s", lock.Path())
	}

	store, err := cache.OpenBolt(opts.Cache.Path, namespace)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &lockedStore{BoltStore: store, lock: lock}, nil
}

func newDestination(ctx context.Context, opts *config.Options) (sync.Destination, error) {
	switch opts.Plugin() {
	case "s3":
		return sync.NewS3DestinationFromConfig(ctx, opts.Remote)
	case "dir":
		return sync.NewDirDestination(opts.Remote.Root)
	}
	return nil, fmt.Errorf("%w: no destination for plugin %q", sync.ErrInternal, opts.Plugin())
}

// ignoreLines adds the cache files to the configured ignore list when they
// live inside the deployed tree.
func ignoreLines(opts *config.Options) []string {
	lines := append([]string(nil), opts.Ignore...)
	rel, err := filepath.Rel(opts.BaseDir, opts.Cache.Path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return lines
	}
	rel = "/" + filepath.ToSlash(rel)
	return append(lines, rel, rel+".lock")
}
