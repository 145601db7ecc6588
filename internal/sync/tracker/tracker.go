package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/logging"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// ChangeSource is the slice of the API the tracker polls
type ChangeSource interface {
	GetStartPageToken(ctx context.Context, reqCtx *types.RequestContext) (string, error)
	ListChangesPage(ctx context.Context, reqCtx *types.RequestContext, pageToken string) (*types.ChangePage, error)
}

// State describes where the tracker is in its lifecycle
type State string

const (
	// StateUninitialized means no cursor exists yet
	StateUninitialized State = "uninitialized"
	// StateBootstrapped means a cursor exists but has never produced a
	// successful incremental poll
	StateBootstrapped State = "bootstrapped"
	// StateActive means the cursor has delivered at least one poll
	StateActive State = "active"
	// StateDisabled means change tracking was switched off after
	// repeated failures
	StateDisabled State = "disabled"
)

// Tracker owns the changes-feed cursor: bootstrapping it, advancing it
// page by page, and retiring it when it goes stale or starts thrashing.
type Tracker struct {
	source ChangeSource
	db     *index.DB
	logger logging.Logger
	now    func() time.Time
}

func New(source ChangeSource, db *index.DB, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Tracker{
		source: source,
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// PollResult is one poll's outcome
type PollResult struct {
	// Events is every change since the last poll, in feed order
	Events []types.ChangeEvent
	// Bootstrapped means the cursor was rebuilt this poll; Events is
	// empty and the caller must obtain the remote state another way
	Bootstrapped bool
	// FullListingAdvised accompanies Bootstrapped: false means the
	// tracker is thrashing and the caller should reuse its last known
	// remote state instead of paying for another full listing
	FullListingAdvised bool
	// Pages consumed from the feed
	Pages int
}

// State reports the tracker's current lifecycle state
func (t *Tracker) State(ctx context.Context) (State, error) {
	stored, err := t.db.GetTrackerState(ctx)
	if err != nil {
		return StateUninitialized, err
	}
	switch {
	case stored.Disabled:
		return StateDisabled, nil
	case stored.PageToken == "":
		return StateUninitialized, nil
	case stored.UpdatedMS == 0:
		return StateBootstrapped, nil
	default:
		return StateActive, nil
	}
}

// Disable turns change tracking off persistently. Every later sync
// falls back to full listings until Reset.
func (t *Tracker) Disable(ctx context.Context) error {
	stored, err := t.db.GetTrackerState(ctx)
	if err != nil {
		return err
	}
	stored.Disabled = true
	return t.db.SaveTrackerState(ctx, *stored)
}

// Reset discards the cursor and the disabled flag
func (t *Tracker) Reset(ctx context.Context) error {
	return t.db.ResetTrackerState(ctx)
}

// RecordFullListing notes that the caller just paid for a full remote
// listing, for cooldown accounting
func (t *Tracker) RecordFullListing(ctx context.Context) error {
	stored, err := t.db.GetTrackerState(ctx)
	if err != nil {
		return err
	}
	stored.LastFullListingMS = t.now().UnixMilli()
	return t.db.SaveTrackerState(ctx, *stored)
}

// Bootstrap fetches a fresh cursor scoped to folderID and records the
// bootstrap in the thrash history
func (t *Tracker) Bootstrap(ctx context.Context, reqCtx *types.RequestContext, folderID string) error {
	token, err := t.source.GetStartPageToken(ctx, reqCtx)
	if err != nil {
		return err
	}
	return t.storeBootstrap(ctx, folderID, token)
}

func (t *Tracker) storeBootstrap(ctx context.Context, folderID, token string) error {
	stored, err := t.db.GetTrackerState(ctx)
	if err != nil {
		return err
	}

	nowMS := t.now().UnixMilli()
	history := pruneHistory(stored.BootstrapHistory, nowMS)
	history = append(history, nowMS)

	next := index.TrackerState{
		PageToken:         token,
		FolderID:          folderID,
		UpdatedMS:         0, // unset until the first successful poll
		BootstrapHistory:  history,
		LastFullListingMS: stored.LastFullListingMS,
	}
	if err := t.db.SaveTrackerState(ctx, next); err != nil {
		return err
	}

	t.logger.Info("change tracking bootstrapped",
		logging.F("folderId", folderID),
		logging.F("recentBootstraps", len(history)),
	)
	return nil
}

// Poll advances the cursor and returns every change since the last
// poll. A cursor that is missing, stale, scoped to a different folder,
// or rejected by the API is rebuilt, reported via Bootstrapped.
func (t *Tracker) Poll(ctx context.Context, reqCtx *types.RequestContext, folderID string) (*PollResult, error) {
	stored, err := t.db.GetTrackerState(ctx)
	if err != nil {
		return nil, err
	}

	if stored.Disabled {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeChangeTracking,
			"change tracking is disabled; run 'drivevault sync reset-tracking' to re-enable").Build())
	}

	switch {
	case stored.PageToken == "":
		return t.rebootstrap(ctx, reqCtx, folderID, stored, "no cursor")
	case stored.FolderID != folderID:
		// A cursor built for another folder describes changes we never
		// indexed; its events cannot be trusted
		return t.rebootstrap(ctx, reqCtx, folderID, stored, "folder scope changed")
	case stored.UpdatedMS > 0 && t.now().UnixMilli()-stored.UpdatedMS > utils.CursorMaxAge.Milliseconds():
		return t.rebootstrap(ctx, reqCtx, folderID, stored, "cursor expired")
	}

	result := &PollResult{}
	pageToken := stored.PageToken
	newStartToken := ""

	for {
		if result.Pages >= utils.ChangePageCap {
			t.logger.Warn("change feed page cap reached, rebuilding cursor",
				logging.F("pages", result.Pages),
			)
			return t.rebootstrap(ctx, reqCtx, folderID, stored, "page cap reached")
		}

		page, err := t.source.ListChangesPage(ctx, reqCtx, pageToken)
		if errors.Is(err, api.ErrInvalidPageToken) {
			return t.recoverInvalidToken(ctx, reqCtx, folderID, stored)
		}
		if err != nil {
			return nil, err
		}

		result.Pages++
		result.Events = append(result.Events, page.Events...)

		if page.NewStartPageToken != "" {
			newStartToken = page.NewStartPageToken
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if newStartToken == "" {
		// The feed must hand us the next cursor; without it the next
		// poll would replay everything
		return t.rebootstrap(ctx, reqCtx, folderID, stored, "feed returned no new cursor")
	}

	next := *stored
	next.PageToken = newStartToken
	next.FolderID = folderID
	next.UpdatedMS = t.now().UnixMilli()
	if err := t.db.SaveTrackerState(ctx, next); err != nil {
		return nil, err
	}

	t.logger.Debug("change feed polled",
		logging.F("events", len(result.Events)),
		logging.F("pages", result.Pages),
	)
	return result, nil
}

// recoverInvalidToken handles the API rejecting our cursor. A fresh
// start token that differs from the rejected one means the cursor was
// simply too old; getting the same token back means the feed itself is
// refusing us and tracking cannot continue.
func (t *Tracker) recoverInvalidToken(ctx context.Context, reqCtx *types.RequestContext, folderID string, stored *index.TrackerState) (*PollResult, error) {
	fresh, err := t.source.GetStartPageToken(ctx, reqCtx)
	if err != nil {
		return nil, err
	}
	if fresh == stored.PageToken {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeChangeTracking,
			"the changes feed rejected its own current cursor").Build())
	}

	if err := t.storeBootstrap(ctx, folderID, fresh); err != nil {
		return nil, err
	}
	return t.bootstrapResult(ctx)
}

func (t *Tracker) rebootstrap(ctx context.Context, reqCtx *types.RequestContext, folderID string, stored *index.TrackerState, reason string) (*PollResult, error) {
	t.logger.Info("rebuilding change cursor", logging.F("reason", reason))
	if err := t.Bootstrap(ctx, reqCtx, folderID); err != nil {
		return nil, err
	}
	return t.bootstrapResult(ctx)
}

func (t *Tracker) bootstrapResult(ctx context.Context) (*PollResult, error) {
	stored, err := t.db.GetTrackerState(ctx)
	if err != nil {
		return nil, err
	}
	return &PollResult{
		Bootstrapped:       true,
		FullListingAdvised: t.adviseFullListing(stored),
	}, nil
}

// adviseFullListing decides whether a bootstrap should be followed by a
// full remote listing. Repeated bootstraps inside the thrash window
// mean the listing would be repeated on every pass; a listing already
// paid for inside the cooldown buys nothing either. Each condition
// suppresses the advice on its own.
func (t *Tracker) adviseFullListing(stored *index.TrackerState) bool {
	nowMS := t.now().UnixMilli()
	if len(pruneHistory(stored.BootstrapHistory, nowMS)) >= utils.BootstrapThrashCount {
		return false
	}
	if stored.LastFullListingMS > 0 && nowMS-stored.LastFullListingMS <= utils.FullListingCooldown.Milliseconds() {
		return false
	}
	return true
}

func pruneHistory(history []int64, nowMS int64) []int64 {
	cutoff := nowMS - utils.BootstrapThrashWindow.Milliseconds()
	kept := make([]int64, 0, len(history))
	for _, ts := range history {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}
