package types

// DriveFile represents a Google Drive file
type DriveFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         int64    `json:"size,omitempty"`
	MD5Checksum  string   `json:"md5Checksum,omitempty"`
	CreatedTime  string   `json:"createdTime,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
	Parents      []string `json:"parents,omitempty"`
	Trashed      bool     `json:"trashed,omitempty"`
}

// FileListResult represents one page of a folder listing
type FileListResult struct {
	Files         []*DriveFile `json:"files"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}

// ChangeKind discriminates remote change events
type ChangeKind string

const (
	ChangeFileChanged ChangeKind = "fileChanged"
	ChangeFileRemoved ChangeKind = "fileRemoved"
)

// ChangeEvent is one normalized entry from the Drive changes feed.
// Kind selects which fields are meaningful: FileChanged carries File,
// FileRemoved carries only FileID.
type ChangeEvent struct {
	Kind   ChangeKind `json:"kind"`
	FileID string     `json:"fileId"`
	File   *DriveFile `json:"file,omitempty"`
}

// ChangePage is one page of the changes feed
type ChangePage struct {
	Events            []ChangeEvent `json:"events"`
	NextPageToken     string        `json:"nextPageToken,omitempty"`
	NewStartPageToken string        `json:"newStartPageToken,omitempty"`
}
