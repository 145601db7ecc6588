package diff

import (
	"sort"

	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/sync/scanner"
)

// Snapshot is the three-way input to a comparison: the vault as scanned,
// the remote folder as listed or reconstructed from change events, and
// the state both sides had at the last sync.
type Snapshot struct {
	Local  map[string]scanner.LocalEntry
	Remote map[string]scanner.RemoteEntry
	Prev   map[string]index.Entry
}

// Compute partitions every path known to any of the three views into
// the diff sets. The classification per path:
//
//	present both sides, both diverged      -> conflict
//	present both sides, one side diverged  -> changed on that side
//	present one side, never synced         -> new on that side
//	present one side, synced before        -> deleted on the other side,
//	                                          or a conflict when the
//	                                          surviving side also changed
//	absent both sides                      -> nothing to do
func Compute(snapshot Snapshot) Result {
	paths := make(map[string]struct{})
	for p := range snapshot.Local {
		paths[p] = struct{}{}
	}
	for p := range snapshot.Remote {
		paths[p] = struct{}{}
	}
	for p := range snapshot.Prev {
		paths[p] = struct{}{}
	}

	allPaths := make([]string, 0, len(paths))
	for p := range paths {
		allPaths = append(allPaths, p)
	}
	sort.Strings(allPaths)

	var result Result

	for _, path := range allPaths {
		localEntry, localOK := snapshot.Local[path]
		remoteEntry, remoteOK := snapshot.Remote[path]
		prevEntry, prevOK := snapshot.Prev[path]

		item := Item{
			Path:   path,
			Local:  localPtr(localOK, localEntry),
			Remote: remotePtr(remoteOK, remoteEntry),
			Prev:   prevPtr(prevOK, prevEntry),
		}

		if localOK && remoteOK && localEntry.IsDir != remoteEntry.IsDir {
			result.Conflicts = append(result.Conflicts, Conflict{
				Path: path, Kind: ConflictTypeMismatch,
				Local: item.Local, Remote: item.Remote, Prev: item.Prev,
			})
			continue
		}

		localChanged := localOK && isLocalModified(localEntry, item.Prev)
		remoteChanged := remoteOK && isRemoteModified(remoteEntry, item.Prev)

		switch {
		case localOK && remoteOK:
			if localEntry.IsDir {
				// Directories present on both sides need nothing
				continue
			}
			switch {
			case localChanged && remoteChanged:
				result.Conflicts = append(result.Conflicts, Conflict{
					Path: path, Kind: ConflictBothModified,
					Local: item.Local, Remote: item.Remote, Prev: item.Prev,
				})
			case localChanged:
				result.ChangedLocal = append(result.ChangedLocal, item)
			case remoteChanged:
				result.ChangedRemote = append(result.ChangedRemote, item)
			}

		case localOK:
			if !prevOK || prevEntry.RemoteID == "" {
				result.NewLocal = append(result.NewLocal, item)
				continue
			}
			// Synced before, now gone remotely
			if localChanged && !localEntry.IsDir {
				result.Conflicts = append(result.Conflicts, Conflict{
					Path: path, Kind: ConflictRemoteDeletedLocalModified,
					Local: item.Local, Prev: item.Prev,
				})
				continue
			}
			result.DeletedRemote = append(result.DeletedRemote, item)

		case remoteOK:
			if !prevOK {
				result.NewRemote = append(result.NewRemote, item)
				continue
			}
			// Synced before, now gone from the vault
			if remoteChanged && !remoteEntry.IsDir {
				result.Conflicts = append(result.Conflicts, Conflict{
					Path: path, Kind: ConflictLocalDeletedRemoteModified,
					Remote: item.Remote, Prev: item.Prev,
				})
				continue
			}
			result.DeletedLocal = append(result.DeletedLocal, item)

		default:
			// Gone from both sides; the index entry just lapses
		}
	}

	return result
}

func localPtr(ok bool, entry scanner.LocalEntry) *scanner.LocalEntry {
	if !ok {
		return nil
	}
	e := entry
	return &e
}

func remotePtr(ok bool, entry scanner.RemoteEntry) *scanner.RemoteEntry {
	if !ok {
		return nil
	}
	e := entry
	return &e
}

func prevPtr(ok bool, entry index.Entry) *index.Entry {
	if !ok {
		return nil
	}
	e := entry
	return &e
}

// isLocalModified compares a scanned file against its last-synced state.
// Size and mtime decide cheaply; when they moved but both hashes are
// known, the hash settles it.
func isLocalModified(local scanner.LocalEntry, prev *index.Entry) bool {
	if prev == nil {
		return true
	}
	if local.IsDir != prev.IsDir {
		return true
	}
	if local.IsDir {
		return false
	}
	if local.Size != prev.Size || local.MTimeMS != prev.LocalMTimeMS {
		if prev.RemoteMD5 != "" && local.Hash != "" {
			return prev.RemoteMD5 != local.Hash
		}
		return true
	}
	return false
}

func isRemoteModified(remote scanner.RemoteEntry, prev *index.Entry) bool {
	if prev == nil {
		return true
	}
	if remote.IsDir != prev.IsDir {
		return true
	}
	if remote.IsDir {
		return false
	}
	if remote.MD5Checksum != "" && prev.RemoteMD5 != "" {
		return remote.MD5Checksum != prev.RemoteMD5
	}
	if remote.ModifiedTime != "" && prev.RemoteMTime != "" {
		return remote.ModifiedTime != prev.RemoteMTime
	}
	return remote.Size != prev.Size
}
