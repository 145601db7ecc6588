package diff

import (
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/sync/scanner"
)

// Item is one path slotted into a diff set, with whichever views of it
// exist. Local, Remote and Prev are nil when that side has no record.
type Item struct {
	Path   string
	Local  *scanner.LocalEntry
	Remote *scanner.RemoteEntry
	Prev   *index.Entry
}

type ConflictKind string

const (
	ConflictBothModified               ConflictKind = "both_modified"
	ConflictLocalDeletedRemoteModified ConflictKind = "local_deleted_remote_modified"
	ConflictRemoteDeletedLocalModified ConflictKind = "remote_deleted_local_modified"
	ConflictTypeMismatch               ConflictKind = "type_mismatch"
)

type Conflict struct {
	Path   string
	Kind   ConflictKind
	Local  *scanner.LocalEntry
	Remote *scanner.RemoteEntry
	Prev   *index.Entry
}

// Result partitions every known path into exactly one set. A path never
// appears in more than one slice; conflicts always win over the plain
// sets.
type Result struct {
	// NewLocal exists only in the vault: create remotely
	NewLocal []Item
	// NewRemote exists only remotely: create locally
	NewRemote []Item
	// ChangedLocal diverged on the vault side only: upload in place
	ChangedLocal []Item
	// ChangedRemote diverged on the remote side only: download in place
	ChangedRemote []Item
	// DeletedLocal vanished from the vault: propagate by deleting the
	// remote copy
	DeletedLocal []Item
	// DeletedRemote vanished remotely: propagate by deleting the vault
	// copy
	DeletedRemote []Item
	Conflicts     []Conflict
}

// Empty reports whether the diff calls for no work at all
func (r Result) Empty() bool {
	return len(r.NewLocal) == 0 && len(r.NewRemote) == 0 &&
		len(r.ChangedLocal) == 0 && len(r.ChangedRemote) == 0 &&
		len(r.DeletedLocal) == 0 && len(r.DeletedRemote) == 0 &&
		len(r.Conflicts) == 0
}

// Total counts the paths needing attention
func (r Result) Total() int {
	return len(r.NewLocal) + len(r.NewRemote) +
		len(r.ChangedLocal) + len(r.ChangedRemote) +
		len(r.DeletedLocal) + len(r.DeletedRemote) +
		len(r.Conflicts)
}
