package scanner

// LocalEntry is one file or directory found under the vault root. Path
// is vault-relative with forward slashes.
type LocalEntry struct {
	Path    string
	AbsPath string
	IsDir   bool
	Size    int64
	MTimeMS int64
	Hash    string
}

// RemoteEntry is one object found under the remote folder, keyed by the
// vault-relative path derived from its position in the folder tree.
type RemoteEntry struct {
	Path         string
	ID           string
	ParentID     string
	IsDir        bool
	Size         int64
	ModifiedTime string
	MD5Checksum  string
	MimeType     string
}

// LocalOptions narrows what the local walk reports
type LocalOptions struct {
	// Extensions, when non-empty, keeps only files whose lowercased
	// extension (with dot) is in the set. Directories always pass.
	Extensions map[string]bool
}
