package conflict

import (
	"testing"
	"time"

	"github.com/drivevault/drivevault/internal/sync/diff"
	"github.com/drivevault/drivevault/internal/sync/scanner"
)

func bothModified(path string, localMTimeMS int64, remoteMTime string) diff.Conflict {
	return diff.Conflict{
		Path:   path,
		Kind:   diff.ConflictBothModified,
		Local:  &scanner.LocalEntry{Path: path, MTimeMS: localMTimeMS, Hash: "lh"},
		Remote: &scanner.RemoteEntry{Path: path, ID: "r1", ModifiedTime: remoteMTime, MD5Checksum: "rh"},
	}
}

func TestNewestWinsComparesTimestamps(t *testing.T) {
	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		conflict   diff.Conflict
		wantWinner Winner
	}{
		{
			name:       "local edited later",
			conflict:   bothModified("a.md", newer.UnixMilli(), older.Format(time.RFC3339)),
			wantWinner: WinnerLocal,
		},
		{
			name:       "remote edited later",
			conflict:   bothModified("a.md", older.UnixMilli(), newer.Format(time.RFC3339)),
			wantWinner: WinnerRemote,
		},
		{
			name:       "tie keeps the vault copy",
			conflict:   bothModified("a.md", older.UnixMilli(), older.Format(time.RFC3339)),
			wantWinner: WinnerLocal,
		},
		{
			name:       "unparseable remote time keeps the vault copy",
			conflict:   bothModified("a.md", older.UnixMilli(), "garbage"),
			wantWinner: WinnerLocal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve([]diff.Conflict{tt.conflict}, PolicyNewestWins)
			if len(got) != 1 {
				t.Fatalf("resolution count = %d", len(got))
			}
			if got[0].Winner != tt.wantWinner {
				t.Errorf("Winner = %q, want %q", got[0].Winner, tt.wantWinner)
			}
		})
	}
}

func TestLoserIsAlwaysBackedUp(t *testing.T) {
	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	localWins := Resolve([]diff.Conflict{bothModified("a.md", newer.UnixMilli(), older.Format(time.RFC3339))}, PolicyNewestWins)[0]
	if !localWins.BackupRemote || localWins.BackupLocal {
		t.Errorf("local winner: BackupRemote=%v BackupLocal=%v, want remote-only backup", localWins.BackupRemote, localWins.BackupLocal)
	}

	remoteWins := Resolve([]diff.Conflict{bothModified("a.md", older.UnixMilli(), newer.Format(time.RFC3339))}, PolicyNewestWins)[0]
	if !remoteWins.BackupLocal || remoteWins.BackupRemote {
		t.Errorf("remote winner: BackupLocal=%v BackupRemote=%v, want local-only backup", remoteWins.BackupLocal, remoteWins.BackupRemote)
	}
}

func TestEditBeatsDeletionRegardlessOfPolicy(t *testing.T) {
	remoteDeleted := diff.Conflict{
		Path:  "a.md",
		Kind:  diff.ConflictRemoteDeletedLocalModified,
		Local: &scanner.LocalEntry{Path: "a.md", MTimeMS: 1},
	}
	localDeleted := diff.Conflict{
		Path:   "b.md",
		Kind:   diff.ConflictLocalDeletedRemoteModified,
		Remote: &scanner.RemoteEntry{Path: "b.md", ID: "r2", ModifiedTime: "2026-08-01T00:00:00Z"},
	}

	for _, policy := range []Policy{PolicyNewestWins, PolicyLocalWins, PolicyRemoteWins} {
		got := Resolve([]diff.Conflict{remoteDeleted, localDeleted}, policy)
		if got[0].Winner != WinnerLocal {
			t.Errorf("policy %s: remote-deleted conflict winner = %q, want local", policy, got[0].Winner)
		}
		if got[1].Winner != WinnerRemote {
			t.Errorf("policy %s: local-deleted conflict winner = %q, want remote", policy, got[1].Winner)
		}
	}
}

func TestManualPolicyDecidesNothingButKeepsBothCopies(t *testing.T) {
	got := Resolve([]diff.Conflict{bothModified("a.md", 1, "2026-08-01T00:00:00Z")}, PolicyManual)[0]
	if got.Winner != WinnerNone {
		t.Errorf("Winner = %q, want none", got.Winner)
	}
	if !got.BackupRemote {
		t.Error("manual policy should still capture the remote version locally")
	}
}

func TestNewestWinsLeavesTypeMismatchToTheUser(t *testing.T) {
	c := diff.Conflict{
		Path:   "a",
		Kind:   diff.ConflictTypeMismatch,
		Local:  &scanner.LocalEntry{Path: "a"},
		Remote: &scanner.RemoteEntry{Path: "a", IsDir: true},
	}
	got := Resolve([]diff.Conflict{c}, PolicyNewestWins)[0]
	if got.Winner != WinnerNone {
		t.Errorf("Winner = %q, want none for a type mismatch", got.Winner)
	}
}

func TestBackupName(t *testing.T) {
	at := time.Date(2026, 8, 24, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		path string
		want string
	}{
		{"notes/todo.md", "notes/todo (conflict 2026-08-24T15-04-05Z).md"},
		{"archive.tar.gz", "archive.tar (conflict 2026-08-24T15-04-05Z).gz"},
		{"noext", "noext (conflict 2026-08-24T15-04-05Z)"},
	}
	for _, tt := range tests {
		if got := BackupName(tt.path, at); got != tt.want {
			t.Errorf("BackupName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestValidPolicy(t *testing.T) {
	for _, p := range []Policy{PolicyNewestWins, PolicyLocalWins, PolicyRemoteWins, PolicyManual} {
		if !ValidPolicy(p) {
			t.Errorf("ValidPolicy(%q) = false", p)
		}
	}
	if ValidPolicy(Policy("coin-flip")) {
		t.Error("ValidPolicy(coin-flip) = true")
	}
}
