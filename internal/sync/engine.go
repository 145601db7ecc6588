package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/drivevault/drivevault/internal/logging"
	"github.com/drivevault/drivevault/internal/sync/conflict"
	"github.com/drivevault/drivevault/internal/sync/diff"
	"github.com/drivevault/drivevault/internal/sync/exclude"
	"github.com/drivevault/drivevault/internal/sync/executor"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/sync/scanner"
	"github.com/drivevault/drivevault/internal/sync/tracker"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// RemoteSource is everything the engine needs from the remote side.
// *api.Client satisfies it; tests substitute a fake.
type RemoteSource interface {
	scanner.RemoteLister
	tracker.ChangeSource
	executor.RemoteOps
}

// Engine runs one sync pass end to end: acquire both sides, diff,
// resolve conflicts, execute in phases, persist the ledger. Exactly one
// pass may run per Engine at a time.
type Engine struct {
	remote    RemoteSource
	transfers executor.Transfers
	indexDB   *index.DB
	tracker   *tracker.Tracker
	logger    logging.Logger

	inProgress      atomic.Bool
	trackerFailures int
}

// Options shapes a single pass
type Options struct {
	VaultRoot string
	// FolderID is the remote folder the vault mirrors
	FolderID string
	Policy   conflict.Policy
	// DryRun plans and previews without touching either side
	DryRun bool
	// FullListing bypasses change tracking for this pass
	FullListing bool
	Concurrency int
	// IgnorePatterns extends the default exclusions
	IgnorePatterns []string
	// Extensions, when non-empty, restricts syncing to these file
	// extensions (lowercased, with dot)
	Extensions map[string]bool
}

// Stats is what a pass did
type Stats struct {
	executor.Summary
	FilesScanned  int
	RemoteObjects int
	Duration      time.Duration
	// UsedChangeTracking is false when the remote state came from a
	// full listing
	UsedChangeTracking bool
	NothingToDo        bool
}

// Preview is the dry-run output: the diff plus how conflicts would be
// settled
type Preview struct {
	Diff        diff.Result
	Resolutions []conflict.Resolution
}

func NewEngine(remote RemoteSource, transfers executor.Transfers, db *index.DB, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Engine{
		remote:    remote,
		transfers: transfers,
		indexDB:   db,
		tracker:   tracker.New(remote, db, logger),
		logger:    logger,
	}
}

// Tracker exposes the change tracker for maintenance commands
func (e *Engine) Tracker() *tracker.Tracker {
	return e.tracker
}

func (e *Engine) Close() error {
	if e == nil || e.indexDB == nil {
		return nil
	}
	return e.indexDB.Close()
}

// Sync runs one pass. A second call while a pass is running fails
// immediately with SYNC_IN_PROGRESS.
func (e *Engine) Sync(ctx context.Context, reqCtx *types.RequestContext, opts Options) (*Stats, error) {
	if !e.inProgress.CompareAndSwap(false, true) {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeSyncInProgress,
			"another sync is already running").Build())
	}
	defer e.inProgress.Store(false)

	// A dry run must not consume or create a change cursor, so it
	// always works off a full listing
	if opts.DryRun {
		opts.FullListing = true
	}

	start := time.Now()

	snapshot, usedTracking, err := e.buildSnapshot(ctx, reqCtx, opts)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		FilesScanned:       len(snapshot.Local),
		RemoteObjects:      len(snapshot.Remote),
		UsedChangeTracking: usedTracking,
	}

	d := diff.Compute(*snapshot)
	if d.Empty() {
		stats.NothingToDo = true
		stats.Duration = time.Since(start)
		if !opts.DryRun {
			if err := e.indexDB.SetLastSyncMS(ctx, time.Now().UnixMilli()); err != nil {
				return nil, err
			}
		}
		e.logger.Info("nothing to sync",
			logging.F("files", stats.FilesScanned),
			logging.F("durationMs", stats.Duration.Milliseconds()),
		)
		return stats, nil
	}

	if opts.DryRun {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	exec := executor.New(e.remote, e.transfers, e.logger)
	state := executor.State{
		VaultRoot:    opts.VaultRoot,
		RemoteRootID: opts.FolderID,
		Local:        snapshot.Local,
		Remote:       snapshot.Remote,
	}
	state, summary, err := exec.Apply(ctx, reqCtx, d, state, executor.Options{
		Concurrency: opts.Concurrency,
		Policy:      opts.Policy,
	})
	if err != nil {
		return nil, classifyCancellation(err)
	}
	stats.Summary = summary

	if err := e.persist(ctx, state); err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)

	e.logger.Info("sync complete",
		logging.F("uploaded", summary.Uploaded),
		logging.F("downloaded", summary.Downloaded),
		logging.F("deleted", summary.DeletedLocal+summary.DeletedRemote),
		logging.F("conflictsResolved", summary.ConflictsResolved),
		logging.F("conflictsPending", summary.ConflictsPending),
		logging.F("errors", len(summary.Errors)),
		logging.F("durationMs", stats.Duration.Milliseconds()),
	)
	return stats, nil
}

// Plan computes the diff and conflict decisions without touching either
// side. The change cursor is left alone; the remote state always comes
// from a full listing so a later real pass sees every event.
func (e *Engine) Plan(ctx context.Context, reqCtx *types.RequestContext, opts Options) (*Preview, error) {
	opts.FullListing = true
	opts.DryRun = true

	snapshot, _, err := e.buildSnapshot(ctx, reqCtx, opts)
	if err != nil {
		return nil, err
	}

	d := diff.Compute(*snapshot)
	return &Preview{
		Diff:        d,
		Resolutions: conflict.Resolve(d.Conflicts, opts.Policy),
	}, nil
}

// buildSnapshot assembles the three-way view: local scan, remote state
// (change events when possible, full listing otherwise), and the index.
func (e *Engine) buildSnapshot(ctx context.Context, reqCtx *types.RequestContext, opts Options) (*diff.Snapshot, bool, error) {
	prevList, err := e.indexDB.ListEntries(ctx)
	if err != nil {
		return nil, false, err
	}
	prevMap := make(map[string]index.Entry, len(prevList))
	for _, entry := range prevList {
		prevMap[entry.Path] = entry
	}

	matcher, err := exclude.New(opts.IgnorePatterns)
	if err != nil {
		return nil, false, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}

	local, err := scanner.ScanLocal(ctx, opts.VaultRoot, matcher, scanner.LocalOptions{Extensions: opts.Extensions}, prevMap)
	if err != nil {
		return nil, false, err
	}

	remoteScanner := scanner.NewRemoteScanner(e.remote, matcher)
	remote, usedTracking, err := e.acquireRemote(ctx, reqCtx, remoteScanner, prevList, opts)
	if err != nil {
		return nil, false, err
	}

	return &diff.Snapshot{Local: local, Remote: remote, Prev: prevMap}, usedTracking, nil
}

// acquireRemote prefers the change tracker and falls back to a full
// listing when tracking cannot serve this pass. Repeated tracker
// failures disable tracking persistently.
func (e *Engine) acquireRemote(ctx context.Context, reqCtx *types.RequestContext, rs *scanner.RemoteScanner, prev []index.Entry, opts Options) (map[string]scanner.RemoteEntry, bool, error) {
	if opts.FullListing {
		remote, err := rs.ListTree(ctx, reqCtx, opts.FolderID)
		if err != nil {
			return nil, false, err
		}
		if !opts.DryRun {
			if err := e.tracker.Bootstrap(ctx, reqCtx, opts.FolderID); err != nil {
				e.logger.Warn("cursor bootstrap after full listing failed", logging.F("error", err.Error()))
			}
			if err := e.tracker.RecordFullListing(ctx); err != nil {
				return nil, false, err
			}
		}
		return remote, false, nil
	}

	poll, err := e.tracker.Poll(ctx, reqCtx, opts.FolderID)
	if err != nil {
		if utils.IsCode(err, utils.ErrCodeChangeTracking) {
			// Already disabled or the feed refuses us; a listing
			// narrowed to changes since the last pass still gets the
			// sync done
			e.logger.Warn("change tracking unavailable, using a filtered listing")
			return e.filteredListingFallback(ctx, reqCtx, rs, prev, opts)
		}
		e.trackerFailures++
		e.logger.Warn("change feed poll failed",
			logging.F("consecutiveFailures", e.trackerFailures),
			logging.F("error", err.Error()),
		)
		if e.trackerFailures >= utils.TrackerFailureLimit {
			if disableErr := e.tracker.Disable(ctx); disableErr != nil {
				return nil, false, disableErr
			}
			e.logger.Warn("change tracking disabled after repeated failures",
				logging.F("failures", e.trackerFailures),
			)
		}
		return e.fullListingFallback(ctx, reqCtx, rs, opts)
	}
	e.trackerFailures = 0

	if poll.Bootstrapped {
		if !poll.FullListingAdvised {
			// Thrashing: reuse the last known remote state rather than
			// paying for another listing
			e.logger.Info("cursor rebuilt, reusing indexed remote state")
			remote, _, applyErr := rs.ApplyChangeEvents(ctx, reqCtx, opts.FolderID, prev, nil)
			return remote, false, applyErr
		}
		return e.fullListingFallback(ctx, reqCtx, rs, opts)
	}

	remote, needsFull, err := rs.ApplyChangeEvents(ctx, reqCtx, opts.FolderID, prev, poll.Events)
	if err != nil {
		return nil, false, err
	}
	if needsFull {
		return e.fullListingFallback(ctx, reqCtx, rs, opts)
	}
	return remote, true, nil
}

func (e *Engine) fullListingFallback(ctx context.Context, reqCtx *types.RequestContext, rs *scanner.RemoteScanner, opts Options) (map[string]scanner.RemoteEntry, bool, error) {
	remote, err := rs.ListTree(ctx, reqCtx, opts.FolderID)
	if err != nil {
		return nil, false, err
	}
	if err := e.tracker.RecordFullListing(ctx); err != nil {
		return nil, false, err
	}
	return remote, false, nil
}

// filteredListingFallback narrows the listing to objects modified since
// the last completed pass, overlaid on the indexed remote view. Used
// when tracking is off for good, where a full listing would repeat on
// every pass.
func (e *Engine) filteredListingFallback(ctx context.Context, reqCtx *types.RequestContext, rs *scanner.RemoteScanner, prev []index.Entry, opts Options) (map[string]scanner.RemoteEntry, bool, error) {
	lastMS, err := e.indexDB.GetLastSyncMS(ctx)
	if err != nil {
		return nil, false, err
	}
	if lastMS == 0 {
		return e.fullListingFallback(ctx, reqCtx, rs, opts)
	}

	since := time.UnixMilli(lastMS).UTC().Format(time.RFC3339)
	remote, err := rs.ListTreeSince(ctx, reqCtx, opts.FolderID, since, prev)
	if err != nil {
		return nil, false, err
	}
	return remote, false, nil
}

// persist rebuilds the ledger from the post-execution state. Only pairs
// that exist on both sides are recorded; anything that failed mid-pass
// is absent and gets retried next time.
func (e *Engine) persist(ctx context.Context, state executor.State) error {
	nowMS := time.Now().UnixMilli()
	var entries []index.Entry

	for p, local := range state.Local {
		remote, ok := state.Remote[p]
		if !ok || remote.ID == "" {
			continue
		}
		entries = append(entries, index.Entry{
			Path:         p,
			RemoteID:     remote.ID,
			IsDir:        local.IsDir,
			Size:         local.Size,
			LocalMTimeMS: local.MTimeMS,
			RemoteMTime:  remote.ModifiedTime,
			RemoteMD5:    remote.MD5Checksum,
			LastSyncedMS: nowMS,
		})
	}

	if err := e.indexDB.ReplaceAll(ctx, entries); err != nil {
		return err
	}
	return e.indexDB.SetLastSyncMS(ctx, nowMS)
}

func classifyCancellation(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeCancelled, "sync cancelled").Build())
	}
	return err
}
