// Package sync implements the tree synchronization engine: a recursive
// diff/apply walk over two store roots, an equality evaluator deciding
// whether matching files are interchangeable, and a retry protocol around
// every backend operation. The engine only ever speaks the store contract;
// backends and adapters are interchangeable underneath it.
package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/treesync/treesync/internal/store"
)

// errSkipItem is returned internally when the observer chose to continue
// past a permanently failed item.
var errSkipItem = errors.New("item skipped after failure")

// Engine runs one synchronization pass from a source root onto a target
// root. An Engine is good for one Run at a time; concurrent runs over the
// same root pair are not supported.
type Engine struct {
	policy  Policy
	methods MethodSet
	obs     Observer
	stats   Stats
	runID   string
}

// New builds an engine. A nil observer is replaced with NopObserver.
func New(policy Policy, methods MethodSet, obs Observer) *Engine {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{policy: policy, methods: methods, obs: obs}
}

// Run walks both trees in lock-step and applies the policy. The returned
// Result always carries the statistics accumulated up to the terminal
// state, even when that state is cancelled or failed.
func (e *Engine) Run(ctx context.Context, source, target store.Directory) (*Result, error) {
	e.stats = Stats{}
	e.runID = uuid.NewString()

	result := &Result{RunID: e.runID, Started: time.Now().UTC()}
	slog.Info("sync run start",
		"run", e.runID,
		"source", store.DisplayPath(source),
		"target", store.DisplayPath(target),
		"methods", e.methods.String(),
		"retries", e.policy.MaxRetries,
	)

	err := e.login(ctx, source)
	if err == nil {
		err = e.login(ctx, target)
	}
	if err == nil {
		err = e.syncDir(ctx, source, target)
	}
	if errors.Is(err, errSkipItem) {
		// The observer chose to continue past a root-level failure; there
		// is nothing further to walk, so the run completes as-is.
		err = nil
	}

	result.Stats = e.stats
	result.Finished = time.Now().UTC()
	switch {
	case err == nil:
		result.Outcome = OutcomeCompleted
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		result.Outcome = OutcomeCancelled
		result.Err = err
	default:
		result.Outcome = OutcomeFailed
		result.Err = err
	}

	slog.Info("sync run done",
		"run", e.runID,
		"outcome", result.Outcome,
		"dirsCreated", e.stats.DirsCreated,
		"dirsDeleted", e.stats.DirsDeleted,
		"filesCreated", e.stats.FilesCreated,
		"filesUpdated", e.stats.FilesUpdated,
		"filesDeleted", e.stats.FilesDeleted,
		"took", result.Duration(),
	)
	return result, result.Err
}

// login probes the optional account capability once per root.
func (e *Engine) login(ctx context.Context, root store.Directory) error {
	account, ok := root.(store.Account)
	if !ok {
		return nil
	}
	path := store.DisplayPath(root)
	err := e.withRetry(ctx, path, func(ctx context.Context) error {
		return account.Login(ctx)
	})
	return e.escalate(err, path)
}

// syncDir reconciles one directory level: list both sides, partition the
// union of child names into source-only, target-only and both, and apply
// the policy to each group. Children are processed in sorted name order so
// a run is deterministic for a given backend listing.
func (e *Engine) syncDir(ctx context.Context, source, target store.Directory) error {
	srcItems, err := e.list(ctx, source)
	if err != nil {
		return err
	}
	dstItems, err := e.list(ctx, target)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(srcItems)+len(dstItems))
	seen := make(map[string]struct{}, len(srcItems)+len(dstItems))
	for name := range srcItems {
		names = append(names, name)
		seen[name] = struct{}{}
	}
	for name := range dstItems {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		src, inSource := srcItems[name]
		dst, inTarget := dstItems[name]

		var err error
		switch {
		case inSource && !inTarget:
			err = e.applySourceOnly(ctx, src, target)
		case !inSource && inTarget:
			err = e.applyTargetOnly(ctx, dst)
		default:
			err = e.applyBoth(ctx, src, dst, target)
		}
		if err != nil {
			if errors.Is(err, errSkipItem) {
				continue
			}
			return err
		}
	}
	return nil
}

func (e *Engine) list(ctx context.Context, dir store.Directory) (map[string]store.Item, error) {
	path := store.DisplayPath(dir)

	var items []store.Item
	err := e.withRetry(ctx, path, func(ctx context.Context) error {
		var err error
		items, err = dir.List(ctx)
		return err
	})
	if err != nil {
		return nil, e.escalate(err, path)
	}

	byName := make(map[string]store.Item, len(items))
	for _, it := range items {
		byName[it.Name()] = it
	}
	return byName, nil
}

// applySourceOnly creates the source child in the target, recursing into a
// created directory so its whole subtree is materialized.
func (e *Engine) applySourceOnly(ctx context.Context, src store.Item, target store.Directory) error {
	switch it := src.(type) {
	case store.Directory:
		e.stats.DirsSeen++
		if !e.policy.CreateDirs {
			e.emitAction(ActionSkip, MethodNone, src, nil)
			return nil
		}
		created, err := e.createDir(ctx, target, it)
		if err != nil {
			return err
		}
		e.stats.DirsCreated++
		e.emitAction(ActionCreate, MethodNone, src, created)
		return e.syncDir(ctx, it, created)

	case store.File:
		e.stats.FilesSeen++
		if !e.policy.CreateFiles {
			e.emitAction(ActionSkip, MethodNone, src, nil)
			return nil
		}
		created, err := e.copyFile(ctx, it, target)
		if err != nil {
			return err
		}
		e.stats.FilesCreated++
		e.emitAction(ActionCreate, MethodNone, src, created)
		return nil

	default:
		// The contract only admits files and directories.
		e.emitAction(ActionSkip, MethodNone, src, nil)
		return nil
	}
}

// applyTargetOnly deletes the orphaned target child when the policy allows.
func (e *Engine) applyTargetOnly(ctx context.Context, dst store.Item) error {
	_, isDir := dst.(store.Directory)
	if isDir {
		e.stats.DirsSeen++
	} else {
		e.stats.FilesSeen++
	}
	allowed := e.policy.DeleteFiles
	if isDir {
		allowed = e.policy.DeleteDirs
	}
	if !allowed {
		e.emitAction(ActionSkip, MethodNone, nil, dst)
		return nil
	}

	if err := e.deleteItem(ctx, dst); err != nil {
		return err
	}
	if isDir {
		e.stats.DirsDeleted++
	} else {
		e.stats.FilesDeleted++
	}
	e.emitAction(ActionDelete, MethodNone, nil, dst)
	return nil
}

// applyBoth reconciles a name present on both sides. Directories recurse
// unconditionally; files go through the equality evaluator; a kind
// mismatch is resolved as delete-then-create under the respective flags.
func (e *Engine) applyBoth(ctx context.Context, src, dst store.Item, target store.Directory) error {
	srcDir, srcIsDir := src.(store.Directory)
	dstDir, dstIsDir := dst.(store.Directory)

	switch {
	case srcIsDir && dstIsDir:
		e.stats.DirsSeen++
		return e.syncDir(ctx, srcDir, dstDir)

	case !srcIsDir && !dstIsDir:
		return e.applyFilePair(ctx, src.(store.File), dst.(store.File), target)

	default:
		// File/directory collision: replace the target child with the
		// source's kind, gated by both the delete and create flags.
		if err := e.applyTargetOnly(ctx, dst); err != nil {
			return err
		}
		allowed := e.policy.DeleteFiles
		if dstIsDir {
			allowed = e.policy.DeleteDirs
		}
		if !allowed {
			// The old item is still in the way; creating would clash.
			return nil
		}
		return e.applySourceOnly(ctx, src, target)
	}
}

func (e *Engine) applyFilePair(ctx context.Context, src, dst store.File, target store.Directory) error {
	e.stats.FilesSeen++
	path := store.DisplayPath(dst)

	var method Method
	var equal bool
	err := e.withRetry(ctx, path, func(ctx context.Context) error {
		var err error
		method, equal, err = e.methods.Equal(ctx, src, dst)
		return err
	})
	if err != nil {
		return e.escalate(err, path)
	}

	if equal {
		e.emitAction(ActionSkip, method, src, dst)
		return nil
	}
	if !e.policy.UpdateFiles {
		e.emitAction(ActionSkip, method, src, dst)
		return nil
	}

	updated, err := e.copyFile(ctx, src, target)
	if err != nil {
		return err
	}
	e.stats.FilesUpdated++
	e.emitAction(ActionUpdate, method, src, updated)
	return nil
}

// copyFile streams src into a new target child of the same name, emitting
// progress as bytes move. The open+create pair is retried as one unit so a
// half-read stream is never resumed mid-way.
func (e *Engine) copyFile(ctx context.Context, src store.File, target store.Directory) (store.File, error) {
	path := store.DisplayPath(src)

	var created store.File
	err := e.withRetry(ctx, path, func(ctx context.Context) error {
		rc, err := src.Open(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()

		pr := &progressReader{
			ctx:    ctx,
			r:      rc,
			total:  src.Size(),
			path:   path,
			source: src,
			obs:    e.obs,
		}
		created, err = target.CreateFile(ctx, src.Name(), pr, src.Size())
		return err
	})
	if err != nil {
		return nil, e.escalate(err, path)
	}
	return created, nil
}

func (e *Engine) createDir(ctx context.Context, target store.Directory, src store.Directory) (store.Directory, error) {
	path := store.DisplayPath(src)

	var created store.Directory
	err := e.withRetry(ctx, path, func(ctx context.Context) error {
		var err error
		created, err = target.CreateDir(ctx, src.Name())
		return err
	})
	if err != nil {
		return nil, e.escalate(err, path)
	}
	return created, nil
}

func (e *Engine) deleteItem(ctx context.Context, it store.Item) error {
	path := store.DisplayPath(it)
	err := e.withRetry(ctx, path, func(ctx context.Context) error {
		return it.Delete(ctx)
	})
	return e.escalate(err, path)
}

// escalate hands a permanently failed operation to the observer one last
// time. Unless the observer asks to continue, the error aborts the run;
// otherwise the current item is skipped and the walk goes on.
func (e *Engine) escalate(err error, path string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return err
	}

	rec := &ErrorRecord{Err: err, Attempt: e.policy.MaxRetries + 1, Path: path, Final: true}
	e.obs.OnError(rec)
	if rec.Cancel {
		return ErrCancelled
	}
	if rec.Continue {
		slog.Warn("sync item skipped", "run", e.runID, "path", path, "error", err)
		return errSkipItem
	}
	return err
}

func (e *Engine) emitAction(action Action, method Method, src, dst store.Item) {
	path := ""
	switch {
	case src != nil:
		path = store.DisplayPath(src)
	case dst != nil:
		path = store.DisplayPath(dst)
	}
	slog.Debug("sync", "run", e.runID, "action", action, "method", method, "path", path)
	e.obs.OnAction(&ActionRecord{Action: action, Method: method, Path: path, Source: src, Target: dst})
}

// progressReader forwards reads and reports cumulative progress to the
// observer. Progress is emitted synchronously on the copying goroutine.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	copied int64
	total  int64
	path   string
	source store.Item
	obs    Observer
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.copied += int64(n)
		p.obs.OnProgress(&ProgressRecord{
			Path:   p.path,
			Copied: p.copied,
			Total:  p.total,
			Source: p.source,
		})
	}
	return n, err
}
