package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// fakeSource scripts the changes feed
type fakeSource struct {
	startTokens []string // consumed in order by GetStartPageToken
	pages       map[string]*types.ChangePage
	invalid     map[string]bool // tokens the feed rejects
	startCalls  int
	listCalls   int
}

func (f *fakeSource) GetStartPageToken(ctx context.Context, reqCtx *types.RequestContext) (string, error) {
	f.startCalls++
	if len(f.startTokens) == 0 {
		return "fresh-token", nil
	}
	token := f.startTokens[0]
	if len(f.startTokens) > 1 {
		f.startTokens = f.startTokens[1:]
	}
	return token, nil
}

func (f *fakeSource) ListChangesPage(ctx context.Context, reqCtx *types.RequestContext, pageToken string) (*types.ChangePage, error) {
	f.listCalls++
	if f.invalid[pageToken] {
		return nil, api.ErrInvalidPageToken
	}
	if page, ok := f.pages[pageToken]; ok {
		return page, nil
	}
	return &types.ChangePage{NewStartPageToken: pageToken + "-next"}, nil
}

func newTestTracker(t *testing.T, source *fakeSource) (*Tracker, *index.DB) {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(source, db, nil), db
}

func changed(id string) types.ChangeEvent {
	return types.ChangeEvent{Kind: types.ChangeFileChanged, FileID: id, File: &types.DriveFile{ID: id, Name: id}}
}

func TestFirstPollBootstraps(t *testing.T) {
	source := &fakeSource{startTokens: []string{"t1"}}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	state, _ := tr.State(ctx)
	if state != StateUninitialized {
		t.Fatalf("initial state = %q", state)
	}

	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped || len(result.Events) != 0 {
		t.Errorf("result = %+v, want bootstrap with no events", result)
	}
	if !result.FullListingAdvised {
		t.Error("first bootstrap should advise a full listing")
	}

	state, _ = tr.State(ctx)
	if state != StateBootstrapped {
		t.Errorf("state after bootstrap = %q", state)
	}
}

func TestPollDeliversEventsAndAdvancesCursor(t *testing.T) {
	source := &fakeSource{
		startTokens: []string{"t1"},
		pages: map[string]*types.ChangePage{
			"t1": {Events: []types.ChangeEvent{changed("a")}, NextPageToken: "t1b"},
			"t1b": {
				Events:            []types.ChangeEvent{changed("b"), {Kind: types.ChangeFileRemoved, FileID: "c"}},
				NewStartPageToken: "t2",
			},
		},
	}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Bootstrap(ctx, nil, "folder-1"); err != nil {
		t.Fatal(err)
	}

	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.Bootstrapped {
		t.Fatal("Bootstrapped = true, want incremental poll")
	}
	if len(result.Events) != 3 || result.Pages != 2 {
		t.Errorf("events=%d pages=%d, want 3 events over 2 pages", len(result.Events), result.Pages)
	}
	if result.Events[0].FileID != "a" || result.Events[2].Kind != types.ChangeFileRemoved {
		t.Errorf("events out of order: %+v", result.Events)
	}

	state, _ := tr.State(ctx)
	if state != StateActive {
		t.Errorf("state = %q, want active", state)
	}

	// Next poll starts from the advanced cursor
	source.pages["t2"] = &types.ChangePage{NewStartPageToken: "t3"}
	result, err = tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("second poll events = %d, want 0", len(result.Events))
	}
}

func TestRejectedCursorWithFreshTokenRebootstraps(t *testing.T) {
	source := &fakeSource{
		startTokens: []string{"old-token", "new-token"},
		invalid:     map[string]bool{"old-token": true},
	}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Bootstrap(ctx, nil, "folder-1"); err != nil {
		t.Fatal(err)
	}

	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped {
		t.Error("expected a bootstrap after cursor rejection")
	}
}

func TestRejectedCursorWithIdenticalFreshTokenFails(t *testing.T) {
	source := &fakeSource{
		startTokens: []string{"stuck-token", "stuck-token"},
		invalid:     map[string]bool{"stuck-token": true},
	}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Bootstrap(ctx, nil, "folder-1"); err != nil {
		t.Fatal(err)
	}

	_, err := tr.Poll(ctx, nil, "folder-1")
	if err == nil {
		t.Fatal("Poll() expected error")
	}
	if !utils.IsCode(err, utils.ErrCodeChangeTracking) {
		t.Errorf("error = %v, want CHANGE_TRACKING_UNAVAILABLE", err)
	}
}

func TestStaleCursorRebootstraps(t *testing.T) {
	source := &fakeSource{startTokens: []string{"t1", "t2"}}
	tr, db := newTestTracker(t, source)
	ctx := context.Background()

	staleMS := time.Now().Add(-utils.CursorMaxAge - time.Hour).UnixMilli()
	if err := db.SaveTrackerState(ctx, index.TrackerState{
		PageToken: "t1", FolderID: "folder-1", UpdatedMS: staleMS,
	}); err != nil {
		t.Fatal(err)
	}

	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped {
		t.Error("stale cursor should trigger a bootstrap")
	}
}

func TestFolderScopeMismatchRebootstraps(t *testing.T) {
	source := &fakeSource{startTokens: []string{"t1", "t2"}}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Bootstrap(ctx, nil, "folder-1"); err != nil {
		t.Fatal(err)
	}

	result, err := tr.Poll(ctx, nil, "folder-OTHER")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped {
		t.Error("a cursor scoped to another folder must be discarded")
	}
	if source.listCalls != 0 {
		t.Errorf("feed was consulted %d times with a mis-scoped cursor", source.listCalls)
	}
}

func TestPageCapForcesBootstrap(t *testing.T) {
	// Every page points at another page; the feed never ends
	source := &fakeSource{startTokens: []string{"loop", "fresh"}}
	source.pages = map[string]*types.ChangePage{}
	source.pages["loop"] = &types.ChangePage{NextPageToken: "loop"}

	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Bootstrap(ctx, nil, "folder-1"); err != nil {
		t.Fatal(err)
	}

	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped {
		t.Error("an unbounded feed must be cut off with a bootstrap")
	}
	if source.listCalls != utils.ChangePageCap {
		t.Errorf("feed consulted %d times, want %d", source.listCalls, utils.ChangePageCap)
	}
}

func TestThrashingSuppressesFullListingAdvice(t *testing.T) {
	source := &fakeSource{startTokens: []string{"a", "b", "c", "d"}}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.RecordFullListing(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tr.Bootstrap(ctx, nil, "folder-0"); err != nil {
		t.Fatal(err)
	}

	// Each poll against a different folder discards the cursor and
	// bootstraps again, piling up the thrash history
	var last *PollResult
	for i := 0; i <= utils.BootstrapThrashCount; i++ {
		var err error
		last, err = tr.Poll(ctx, nil, "folder-"+string(rune('1'+i)))
		if err != nil {
			t.Fatal(err)
		}
	}

	if last == nil || !last.Bootstrapped {
		t.Fatalf("last result = %+v", last)
	}
	if last.FullListingAdvised {
		t.Error("repeated bootstraps with a recent listing should suppress another full listing")
	}
}

func TestSecondBootstrapInWindowSuppressesListingAdvice(t *testing.T) {
	source := &fakeSource{startTokens: []string{"a", "b"}}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Bootstrap(ctx, nil, "folder-1"); err != nil {
		t.Fatal(err)
	}

	// Discarding the cursor for another folder is the second bootstrap
	// inside the window
	result, err := tr.Poll(ctx, nil, "folder-2")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped {
		t.Fatal("expected a bootstrap")
	}
	if result.FullListingAdvised {
		t.Error("two bootstraps inside the window should suppress the listing on their own")
	}
}

func TestRecentFullListingSuppressesListingAdvice(t *testing.T) {
	source := &fakeSource{startTokens: []string{"t1"}}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.RecordFullListing(ctx); err != nil {
		t.Fatal(err)
	}

	// First and only bootstrap, but a listing was just paid for
	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Bootstrapped {
		t.Fatal("expected a bootstrap")
	}
	if result.FullListingAdvised {
		t.Error("a listing inside the cooldown should suppress another one on its own")
	}
}

func TestDisableAndReset(t *testing.T) {
	source := &fakeSource{startTokens: []string{"t1", "t2"}}
	tr, _ := newTestTracker(t, source)
	ctx := context.Background()

	if err := tr.Disable(ctx); err != nil {
		t.Fatal(err)
	}

	state, _ := tr.State(ctx)
	if state != StateDisabled {
		t.Errorf("state = %q, want disabled", state)
	}

	_, err := tr.Poll(ctx, nil, "folder-1")
	if !utils.IsCode(err, utils.ErrCodeChangeTracking) {
		t.Errorf("Poll() while disabled = %v, want CHANGE_TRACKING_UNAVAILABLE", err)
	}

	if err := tr.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	result, err := tr.Poll(ctx, nil, "folder-1")
	if err != nil {
		t.Fatalf("Poll() after reset error = %v", err)
	}
	if !result.Bootstrapped {
		t.Error("poll after reset should bootstrap")
	}
}
