package scanner

import (
	"context"
	"path"
	"strings"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/sync/exclude"
	"github.com/drivevault/drivevault/internal/sync/index"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// RemoteLister is the slice of the API the remote scanner needs
type RemoteLister interface {
	ListChildren(ctx context.Context, reqCtx *types.RequestContext, folderID, modifiedAfter, pageToken string) (*types.FileListResult, error)
	GetFile(ctx context.Context, reqCtx *types.RequestContext, fileID string) (*types.DriveFile, error)
}

type RemoteScanner struct {
	client  RemoteLister
	matcher *exclude.Matcher
}

func NewRemoteScanner(client RemoteLister, matcher *exclude.Matcher) *RemoteScanner {
	return &RemoteScanner{client: client, matcher: matcher}
}

// ListTree walks the remote folder breadth-first and returns every
// object keyed by vault-relative path. Excluded paths and their
// subtrees are not descended into.
func (s *RemoteScanner) ListTree(ctx context.Context, reqCtx *types.RequestContext, rootID string) (map[string]RemoteEntry, error) {
	return s.walkTree(ctx, reqCtx, rootID, "", make(map[string]RemoteEntry))
}

// ListTreeSince lists only objects modified after the given instant
// (RFC 3339) and overlays them on the remote view recorded in the
// index. Folders are still traversed regardless of their own timestamps.
// Deletions are invisible to a filtered listing; they surface on the
// next full pass.
func (s *RemoteScanner) ListTreeSince(ctx context.Context, reqCtx *types.RequestContext, rootID, modifiedAfter string, prev []index.Entry) (map[string]RemoteEntry, error) {
	entries := make(map[string]RemoteEntry, len(prev))
	for _, e := range prev {
		if e.RemoteID == "" {
			continue
		}
		entries[e.Path] = RemoteEntry{
			Path:         e.Path,
			ID:           e.RemoteID,
			IsDir:        e.IsDir,
			Size:         e.Size,
			ModifiedTime: e.RemoteMTime,
			MD5Checksum:  e.RemoteMD5,
		}
	}
	return s.walkTree(ctx, reqCtx, rootID, modifiedAfter, entries)
}

func (s *RemoteScanner) walkTree(ctx context.Context, reqCtx *types.RequestContext, rootID, modifiedAfter string, entries map[string]RemoteEntry) (map[string]RemoteEntry, error) {
	queue := []remoteNode{{ID: rootID, Path: ""}}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		children, err := s.listChildren(ctx, reqCtx, node.ID, modifiedAfter)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			rel := child.Name
			if node.Path != "" {
				rel = path.Join(node.Path, child.Name)
			}
			isDir := child.MimeType == utils.MimeTypeFolder
			if s.matcher.IsExcluded(rel, isDir) {
				continue
			}

			entries[rel] = RemoteEntry{
				Path:         rel,
				ID:           child.ID,
				ParentID:     node.ID,
				IsDir:        isDir,
				Size:         child.Size,
				ModifiedTime: child.ModifiedTime,
				MD5Checksum:  child.MD5Checksum,
				MimeType:     child.MimeType,
			}
			if isDir {
				queue = append(queue, remoteNode{ID: child.ID, Path: rel})
			}
		}
	}

	return entries, nil
}

// ApplyChangeEvents folds a batch of change events into the remote view
// recorded in the index. Events for objects outside the synced folder
// are discarded. Returns needsFullScan=true when an event cannot be
// placed in the tree, in which case the caller falls back to ListTree.
func (s *RemoteScanner) ApplyChangeEvents(ctx context.Context, reqCtx *types.RequestContext, rootID string, prev []index.Entry, events []types.ChangeEvent) (map[string]RemoteEntry, bool, error) {
	entries := make(map[string]RemoteEntry, len(prev))
	idToPath := make(map[string]string, len(prev))

	for _, e := range prev {
		entries[e.Path] = RemoteEntry{
			Path:         e.Path,
			ID:           e.RemoteID,
			IsDir:        e.IsDir,
			Size:         e.Size,
			ModifiedTime: e.RemoteMTime,
			MD5Checksum:  e.RemoteMD5,
		}
		if e.RemoteID != "" {
			idToPath[e.RemoteID] = e.Path
		}
	}

	cache := make(map[string]*types.DriveFile)

	for _, event := range events {
		if event.Kind == types.ChangeFileRemoved {
			if p, ok := idToPath[event.FileID]; ok {
				removeSubtree(entries, idToPath, p)
			}
			continue
		}

		file := event.File
		parentID := ""
		if len(file.Parents) > 0 {
			parentID = file.Parents[0]
		}
		if parentID == "" {
			// Moved somewhere unreachable; treat as gone from our tree
			if p, ok := idToPath[event.FileID]; ok {
				removeSubtree(entries, idToPath, p)
			}
			continue
		}

		parentPath, underRoot, err := s.resolveParentPath(ctx, reqCtx, rootID, parentID, idToPath, cache, 0)
		if err != nil {
			return nil, true, nil
		}
		if !underRoot {
			// The object lives outside the synced folder now
			if p, ok := idToPath[event.FileID]; ok {
				removeSubtree(entries, idToPath, p)
			}
			continue
		}

		rel := file.Name
		if parentPath != "" {
			rel = path.Join(parentPath, file.Name)
		}
		isDir := file.MimeType == utils.MimeTypeFolder
		if s.matcher.IsExcluded(rel, isDir) {
			if p, ok := idToPath[event.FileID]; ok {
				removeSubtree(entries, idToPath, p)
			}
			continue
		}

		// A rename or move shows up as the same id at a new path
		if oldPath, ok := idToPath[event.FileID]; ok && oldPath != rel {
			if isDir {
				rekeySubtree(entries, idToPath, oldPath, rel)
			}
			delete(entries, oldPath)
		}

		entries[rel] = RemoteEntry{
			Path:         rel,
			ID:           file.ID,
			ParentID:     parentID,
			IsDir:        isDir,
			Size:         file.Size,
			ModifiedTime: file.ModifiedTime,
			MD5Checksum:  file.MD5Checksum,
			MimeType:     file.MimeType,
		}
		idToPath[file.ID] = rel
	}

	return entries, false, nil
}

type remoteNode struct {
	ID   string
	Path string
}

func (s *RemoteScanner) listChildren(ctx context.Context, reqCtx *types.RequestContext, parentID, modifiedAfter string) ([]*types.DriveFile, error) {
	var results []*types.DriveFile
	pageToken := ""
	for {
		page, err := s.client.ListChildren(ctx, reqCtx, parentID, modifiedAfter, pageToken)
		if err != nil {
			return nil, err
		}
		results = append(results, page.Files...)
		if page.NextPageToken == "" {
			return results, nil
		}
		pageToken = page.NextPageToken
	}
}

// resolveParentPath walks ancestor folders up to the synced root.
// Returns underRoot=false when the walk leaves the synced subtree.
func (s *RemoteScanner) resolveParentPath(ctx context.Context, reqCtx *types.RequestContext, rootID, folderID string, idToPath map[string]string, cache map[string]*types.DriveFile, depth int) (string, bool, error) {
	if folderID == rootID {
		return "", true, nil
	}
	if folderID == "" || depth > 50 {
		return "", false, nil
	}
	if existing, ok := idToPath[folderID]; ok {
		return existing, true, nil
	}

	info, ok := cache[folderID]
	if !ok {
		var err error
		info, err = s.client.GetFile(ctx, reqCtx, folderID)
		if err != nil {
			if api.IsNotFound(err) {
				return "", false, nil
			}
			return "", false, err
		}
		cache[folderID] = info
	}
	if len(info.Parents) == 0 {
		return "", false, nil
	}

	parentPath, underRoot, err := s.resolveParentPath(ctx, reqCtx, rootID, info.Parents[0], idToPath, cache, depth+1)
	if err != nil || !underRoot {
		return "", underRoot, err
	}

	rel := info.Name
	if parentPath != "" {
		rel = path.Join(parentPath, info.Name)
	}
	idToPath[folderID] = rel
	return rel, true, nil
}

func removeSubtree(entries map[string]RemoteEntry, idToPath map[string]string, basePath string) {
	if basePath == "" {
		return
	}
	prefix := basePath + "/"
	for id, p := range idToPath {
		if p == basePath || strings.HasPrefix(p, prefix) {
			delete(idToPath, id)
		}
	}
	for key := range entries {
		if key == basePath || strings.HasPrefix(key, prefix) {
			delete(entries, key)
		}
	}
}

func rekeySubtree(entries map[string]RemoteEntry, idToPath map[string]string, oldPath, newPath string) {
	oldPrefix := oldPath + "/"
	newPrefix := newPath + "/"
	moved := make(map[string]RemoteEntry)
	for key, entry := range entries {
		if strings.HasPrefix(key, oldPrefix) {
			newKey := newPrefix + strings.TrimPrefix(key, oldPrefix)
			entry.Path = newKey
			moved[newKey] = entry
			delete(entries, key)
		}
	}
	for key, entry := range moved {
		entries[key] = entry
	}
	for id, p := range idToPath {
		if strings.HasPrefix(p, oldPrefix) {
			idToPath[id] = newPrefix + strings.TrimPrefix(p, oldPrefix)
		}
	}
}
