package conflict

import (
	"path"
	"strings"
	"time"

	"github.com/drivevault/drivevault/internal/sync/diff"
)

// Policy selects how conflicting edits are settled
type Policy string

const (
	// PolicyNewestWins keeps whichever side was modified last and backs
	// up the losing copy next to the file
	PolicyNewestWins Policy = "newest-wins"
	PolicyLocalWins  Policy = "local-wins"
	PolicyRemoteWins Policy = "remote-wins"
	// PolicyManual applies nothing; both versions are preserved locally
	// and the conflict is reported for the user to settle
	PolicyManual Policy = "manual"
)

// ValidPolicy reports whether p names a known policy
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyNewestWins, PolicyLocalWins, PolicyRemoteWins, PolicyManual:
		return true
	}
	return false
}

type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	// WinnerNone leaves the conflict for the user
	WinnerNone Winner = "none"
)

// Resolution is the decision for one conflict. Backups always land on
// the local side: BackupLocal preserves the vault copy under a conflict
// name before it is overwritten, BackupRemote fetches the remote copy
// into a conflict-named file before it is replaced or lost.
type Resolution struct {
	Conflict     diff.Conflict
	Winner       Winner
	BackupLocal  bool
	BackupRemote bool
}

// Resolve decides every conflict under the given policy. It only
// decides; applying winners and writing backups is the caller's job.
func Resolve(conflicts []diff.Conflict, policy Policy) []Resolution {
	resolutions := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		resolutions = append(resolutions, resolveOne(c, policy))
	}
	return resolutions
}

func resolveOne(c diff.Conflict, policy Policy) Resolution {
	if policy == PolicyManual {
		return Resolution{
			Conflict: c,
			Winner:   WinnerNone,
			// The remote version is still captured so the user can
			// compare both without another fetch
			BackupRemote: c.Remote != nil,
		}
	}

	winner := pickWinner(c, policy)
	r := Resolution{Conflict: c, Winner: winner}
	switch winner {
	case WinnerLocal:
		r.BackupRemote = c.Remote != nil
	case WinnerRemote:
		r.BackupLocal = c.Local != nil
	}
	return r
}

func pickWinner(c diff.Conflict, policy Policy) Winner {
	// Deletion conflicts have only one surviving copy; the edit beats
	// the deletion regardless of policy
	switch c.Kind {
	case diff.ConflictRemoteDeletedLocalModified:
		return WinnerLocal
	case diff.ConflictLocalDeletedRemoteModified:
		return WinnerRemote
	}

	switch policy {
	case PolicyLocalWins:
		return WinnerLocal
	case PolicyRemoteWins:
		return WinnerRemote
	}

	// newest-wins on a type mismatch has no meaningful timestamps to
	// compare, so it stays with the user
	if c.Kind == diff.ConflictTypeMismatch {
		return WinnerNone
	}

	localMS := int64(0)
	if c.Local != nil {
		localMS = c.Local.MTimeMS
	}
	remoteMS := int64(0)
	if c.Remote != nil {
		if t, err := time.Parse(time.RFC3339, c.Remote.ModifiedTime); err == nil {
			remoteMS = t.UnixMilli()
		}
	}

	// Ties keep the vault copy; the user's working tree is the side
	// they can see
	if remoteMS > localMS {
		return WinnerRemote
	}
	return WinnerLocal
}

// BackupName derives the conflict-copy filename for a path. The
// timestamp is RFC 3339 UTC with colons and dots flattened to hyphens
// so the name is legal on every filesystem.
func BackupName(p string, at time.Time) string {
	stamp := at.UTC().Format(time.RFC3339)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)

	ext := path.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	return stem + " (conflict " + stamp + ")" + ext
}
