package index

import "errors"

var errCorruptDatabase = errors.New("index database failed integrity check")

// Entry is the recorded state of one synchronized path. Paths are
// vault-relative with forward slashes. A path and a remote id pair up
// one-to-one; the UNIQUE constraint on remote_id enforces it.
type Entry struct {
	Path         string
	RemoteID     string
	IsDir        bool
	Size         int64
	LocalMTimeMS int64
	RemoteMTime  string
	RemoteMD5    string
	LastSyncedMS int64
}

// TrackerState is the persisted change-tracking cursor and its history.
type TrackerState struct {
	PageToken string
	FolderID  string
	UpdatedMS int64
	Disabled  bool
	// BootstrapHistory holds recent bootstrap timestamps (unix ms),
	// newest last, for thrash detection
	BootstrapHistory  []int64
	LastFullListingMS int64
}
