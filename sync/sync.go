// Package sync converges a remote store on a local tree. It owns the
// Destination contract, its adapters and the reconciliation engine.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sandeepkandula/poosh/cache"
	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/file"
	"github.com/sandeepkandula/poosh/source"
)

// Command selects what a run does with remote only keys.
type Command string

const (
	// CommandUpload publishes local files and never deletes.
	CommandUpload Command = "upload"
	// CommandSync also deletes remote keys absent from the local tree.
	CommandSync Command = "sync"
)

// Engine reconciles one tree with one destination.
type Engine struct {
	dest        Destination
	store       cache.Store
	tree        *source.Tree
	policy      config.Policy
	concurrency int
	stats       *Stats
	log         *slog.Logger
}

// New creates an engine. listener may be nil.
func New(dest Destination, store cache.Store, tree *source.Tree, policy config.Policy, concurrency int, listener Listener) *Engine {
	if concurrency <= 0 {
		concurrency = config.DefaultConcurrency
	}
	return &Engine{
		dest:        dest,
		store:       store,
		tree:        tree,
		policy:      policy,
		concurrency: concurrency,
		stats:       newStats(listener),
		log:         slog.Default().With("component", "engine"),
	}
}

// Upload publishes every local file.
func (e *Engine) Upload(ctx context.Context) (StatsSnapshot, error) {
	return e.Run(ctx, CommandUpload)
}

// Sync publishes every local file and deletes remote only keys.
func (e *Engine) Sync(ctx context.Context) (StatsSnapshot, error) {
	return e.Run(ctx, CommandSync)
}

// Run executes cmd. Per-file failures are counted in the returned statistics;
// the error is reserved for failures that abort the run.
func (e *Engine) Run(ctx context.Context, cmd Command) (StatsSnapshot, error) {
	if cmd != CommandUpload && cmd != CommandSync {
		return StatsSnapshot{}, fmt.Errorf("%w: unknown command %q", ErrInternal, cmd)
	}
	e.stats.init(string(cmd))

	err := e.run(ctx, cmd == CommandSync)

	// buffered deletions are flushed even when the run was interrupted
	if e.policy.WriteRemote() {
		batch, ferr := e.dest.FlushDelete(context.WithoutCancel(ctx))
		if batch != nil {
			ferr = e.deleted(batch, ferr)
		}
		err = errors.Join(err, ferr)
	}

	return e.stats.finalize(), err
}

func (e *Engine) run(ctx context.Context, deleting bool) error {
	rough := e.dest.Rough()
	base := e.dest.BaseDestination()
	local := mapset.NewSet[string]()

	var (
		mu     sync.Mutex
		remote []*file.File
	)

	scan, scanCtx := errgroup.WithContext(ctx)
	if deleting {
		scan.Go(func() error {
			return e.dest.List(scanCtx, func(f *file.File) bool {
				if scanCtx.Err() != nil {
					return false
				}
				mu.Lock()
				remote = append(remote, f)
				mu.Unlock()
				return true
			})
		})
	}

	scan.Go(func() error {
		work, workCtx := errgroup.WithContext(scanCtx)
		work.SetLimit(e.concurrency)

		walkErr := e.tree.Walk(workCtx, func(entry source.Entry) error {
			local.Add(entry.Rel)
			e.stats.update(func(s *StatsSnapshot) {
				s.Match.Count++
				s.Match.Size += entry.Size
			}, Event{Type: EventMatch})

			work.Go(func() error {
				return e.process(workCtx, entry, base, rough)
			})
			return nil
		})
		if err := work.Wait(); err != nil {
			return err
		}
		return walkErr
	})

	if err := scan.Wait(); err != nil {
		return err
	}
	if !deleting {
		return nil
	}

	for _, f := range remote {
		if local.Contains(f.Key()) {
			continue
		}
		if err := e.remove(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// process reconciles one local file. It returns an error only when the run
// must stop.
func (e *Engine) process(ctx context.Context, entry source.Entry, base string, rough bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := e.tree.Build(entry, base)
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			return err
		}
		e.fail(&file.File{Dest: file.NewDest(base, entry.Rel)}, err)
		return nil
	}

	remoteOpts, err := e.dest.NormalizeFileRemoteOptions(*f.Remote)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Key(), err)
	}
	f.Remote = &remoteOpts

	if e.policy.ReadCache() {
		snap, err := e.store.Get(f.Key())
		if err != nil {
			e.log.Warn("cache read failed, probing remote", "path", f.Key(), "error", err)
		}
		f.Cache = snap
	}
	localDetails := f.Cache.Compare(f)
	f.LocalDetails = &localDetails

	if e.trustCache(f) {
		f.State = file.TrustingCache
		f.Status = file.Unchanged
		f.StatusDetails = &localDetails
		f.State = file.Done
		e.finish(f)
		return nil
	}

	f.State = file.ProbingRemote
	status, details, err := e.dest.Status(ctx, f)
	if err != nil {
		e.fail(f, err)
		return nil
	}
	if rough {
		// a rough backend's verdict covers every facet
		details = file.Uniform(status)
	} else {
		status = details.Overall()
	}
	f.StatusDetails = &details

	switch status {
	case file.Missing:
		f.Status = file.Created
	case file.Same:
		f.Status = file.Identical
	case file.Different:
		f.Status = file.Updated
	default:
		return fmt.Errorf("%w: %s has no classification", ErrInternal, f.Key())
	}
	f.State = file.Classified

	written := false
	if f.Status.Writes() {
		if !e.policy.WriteRemote() {
			f.State = file.Skipped
		} else {
			f.State = file.Executing
			if err := e.upload(ctx, f); err != nil {
				e.fail(f, err)
				return nil
			}
			written = true
		}
	}

	if e.policy.WriteCache() && (written || f.Status == file.Identical) {
		if err := e.store.Set(f.Key(), file.SnapshotOf(f)); err != nil {
			e.log.Warn("cache write failed", "path", f.Key(), "error", err)
		}
	}

	f.State = file.Done
	e.finish(f)
	return nil
}

// trustCache reports whether the snapshot alone proves the remote is current.
func (e *Engine) trustCache(f *file.File) bool {
	if f.Cache == nil || e.policy.Force.Any() {
		return false
	}
	return f.LocalDetails.Overall() == file.Same
}

func (e *Engine) upload(ctx context.Context, f *file.File) error {
	size := f.Size()
	e.stats.update(func(s *StatsSnapshot) {
		s.Upload.Count++
		s.Upload.Size += size
	}, Event{Type: EventUpload, File: f})

	if err := e.dest.Upload(ctx, f); err != nil {
		return err
	}

	e.stats.update(func(s *StatsSnapshot) {
		s.Upload.Done++
	}, Event{Type: EventUpload, File: f})
	return nil
}

// remove classifies a remote only key and schedules its deletion.
func (e *Engine) remove(ctx context.Context, f *file.File) error {
	f.Status = file.Deleted
	f.State = file.Classified

	if !e.policy.WriteRemote() {
		f.State = file.Done
		e.finish(f)
		return nil
	}

	size := f.Size()
	f.State = file.Executing
	e.stats.update(func(s *StatsSnapshot) {
		s.Delete.Count++
		s.Delete.Size += size
	}, Event{Type: EventDelete, File: f})

	batch, err := e.dest.PushDelete(ctx, f)
	if batch == nil {
		return err
	}
	return e.deleted(batch, err)
}

// deleted records a flushed batch. A failed flush aborts the run.
func (e *Engine) deleted(batch []*file.File, flushErr error) error {
	if flushErr != nil {
		for _, f := range batch {
			e.fail(f, flushErr)
		}
		return fmt.Errorf("flush %d deletions: %w", len(batch), flushErr)
	}

	e.stats.update(func(s *StatsSnapshot) {
		s.Delete.Done += len(batch)
	}, Event{Type: EventDelete, Files: batch})

	for _, f := range batch {
		if e.policy.WriteCache() {
			if err := e.store.Delete(f.Key()); err != nil {
				e.log.Warn("cache delete failed", "path", f.Key(), "error", err)
			}
		}
		f.State = file.Done
		e.finish(f)
	}
	return nil
}

func (e *Engine) finish(f *file.File) {
	e.stats.update(func(s *StatsSnapshot) {
		countAction(&s.Action, f.Status)
	}, Event{Type: EventFile, File: f})
}

func (e *Engine) fail(f *file.File, err error) {
	f.Err = err
	f.State = file.Failed
	e.log.Debug("file failed", "path", f.Key(), "error", err)
	e.stats.update(func(s *StatsSnapshot) {
		s.Action.Failure++
	}, Event{Type: EventFile, File: f})
}
