package executor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drivevault/drivevault/internal/logging"
	"github.com/drivevault/drivevault/internal/sync/conflict"
	"github.com/drivevault/drivevault/internal/sync/diff"
	"github.com/drivevault/drivevault/internal/sync/scanner"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// RemoteOps is the non-transfer remote surface the executor needs
type RemoteOps interface {
	CreateFolder(ctx context.Context, reqCtx *types.RequestContext, name, parentID string) (*types.DriveFile, error)
	DeleteFile(ctx context.Context, reqCtx *types.RequestContext, fileID string) error
}

// Transfers moves file content in both directions
type Transfers interface {
	Upload(ctx context.Context, reqCtx *types.RequestContext, name string, content []byte, mimeType, parentID, existingID string) (*types.DriveFile, error)
	Download(ctx context.Context, reqCtx *types.RequestContext, fileID, ifMD5 string) ([]byte, bool, error)
}

// Executor applies a computed diff in strict phase order: conflicts
// first, then uploads, then downloads, then deletions. A failure on one
// file never stops the others; it is recorded and the sync moves on.
type Executor struct {
	remote    RemoteOps
	transfers Transfers
	logger    logging.Logger
	now       func() time.Time
}

// State is the executor's working view of both sides. Apply mutates the
// maps as operations succeed so the caller can rebuild the index from
// the final state.
type State struct {
	VaultRoot    string
	RemoteRootID string
	Local        map[string]scanner.LocalEntry
	Remote       map[string]scanner.RemoteEntry
}

type Options struct {
	Concurrency int
	Policy      conflict.Policy
}

// FileError is one per-file failure, attributed to the operation that
// hit it
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Summary tallies what a pass actually did
type Summary struct {
	Uploaded          int
	Downloaded        int
	DeletedLocal      int
	DeletedRemote     int
	FoldersCreated    int
	Skipped           int
	ConflictsResolved int
	ConflictsPending  int
	BytesUploaded     int64
	BytesDownloaded   int64
	Errors            []FileError
}

func New(remote RemoteOps, transfers Transfers, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Executor{
		remote:    remote,
		transfers: transfers,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply executes the diff. Only a cancelled context aborts the pass;
// everything else lands in Summary.Errors.
func (x *Executor) Apply(ctx context.Context, reqCtx *types.RequestContext, d diff.Result, state State, opts Options) (State, Summary, error) {
	summary := &Summary{}
	var mu sync.Mutex

	folders := remoteFolderMap(state)

	resolutions := conflict.Resolve(d.Conflicts, opts.Policy)
	for _, r := range resolutions {
		if ctx.Err() != nil {
			return state, *summary, ctx.Err()
		}
		x.applyResolution(ctx, reqCtx, r, state, folders, summary)
	}

	if err := x.uploadPhase(ctx, reqCtx, d, state, folders, opts, summary, &mu); err != nil {
		return state, *summary, err
	}
	if err := x.downloadPhase(ctx, reqCtx, d, state, opts, summary, &mu); err != nil {
		return state, *summary, err
	}
	if err := x.deletionPhase(ctx, reqCtx, d, state, summary); err != nil {
		return state, *summary, err
	}

	return state, *summary, nil
}

// --- conflicts ---

func (x *Executor) applyResolution(ctx context.Context, reqCtx *types.RequestContext, r conflict.Resolution, state State, folders map[string]string, summary *Summary) {
	c := r.Conflict

	if r.BackupRemote && c.Remote != nil && !c.Remote.IsDir {
		if err := x.backupRemote(ctx, reqCtx, c, state); err != nil {
			// Without the backup the losing version would be lost for
			// good, so the conflict stays unresolved
			x.recordError(summary, c.Path, "backup", utils.NewAppError(
				utils.NewCLIError(utils.ErrCodeConflictUnresolved,
					fmt.Sprintf("cannot preserve the remote version of %s: %v", c.Path, err)).Build()))
			summary.ConflictsPending++
			return
		}
	}
	if r.BackupLocal && c.Local != nil && !c.Local.IsDir {
		if err := x.backupLocal(c, state); err != nil {
			x.recordError(summary, c.Path, "backup", err)
			summary.ConflictsPending++
			return
		}
	}

	switch r.Winner {
	case conflict.WinnerLocal:
		x.pushConflictWinner(ctx, reqCtx, c, state, folders, summary)
	case conflict.WinnerRemote:
		x.pullConflictWinner(ctx, reqCtx, c, state, summary)
	default:
		summary.ConflictsPending++
	}
}

func (x *Executor) backupRemote(ctx context.Context, reqCtx *types.RequestContext, c diff.Conflict, state State) error {
	data, _, err := x.transfers.Download(ctx, reqCtx, c.Remote.ID, "")
	if err != nil {
		return err
	}
	backupRel := conflict.BackupName(c.Path, x.now())
	return writeVaultFile(state.VaultRoot, backupRel, data, time.Time{})
}

func (x *Executor) backupLocal(c diff.Conflict, state State) error {
	src := filepath.Join(state.VaultRoot, filepath.FromSlash(c.Path))
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	backupRel := conflict.BackupName(c.Path, x.now())
	return writeVaultFile(state.VaultRoot, backupRel, data, time.Time{})
}

func (x *Executor) pushConflictWinner(ctx context.Context, reqCtx *types.RequestContext, c diff.Conflict, state State, folders map[string]string, summary *Summary) {
	if c.Local == nil || c.Local.IsDir {
		summary.ConflictsPending++
		return
	}
	existingID := ""
	if c.Remote != nil {
		existingID = c.Remote.ID
	}
	// The winner may sit under a folder the remote side deleted
	if _, err := x.ensureRemoteFolder(ctx, reqCtx, folders, parentPath(c.Path), summary); err != nil {
		x.recordError(summary, c.Path, "mkdir", err)
		summary.ConflictsPending++
		return
	}
	if err := x.uploadOne(ctx, reqCtx, c.Path, existingID, state, folders, summary, nil); err != nil {
		x.recordError(summary, c.Path, "upload", err)
		summary.ConflictsPending++
		return
	}
	summary.ConflictsResolved++
}

func (x *Executor) pullConflictWinner(ctx context.Context, reqCtx *types.RequestContext, c diff.Conflict, state State, summary *Summary) {
	if c.Remote == nil || c.Remote.IsDir {
		summary.ConflictsPending++
		return
	}
	if err := x.downloadOne(ctx, reqCtx, *c.Remote, c.Path, "", state, summary, nil); err != nil {
		x.recordError(summary, c.Path, "download", err)
		summary.ConflictsPending++
		return
	}
	summary.ConflictsResolved++
}

// --- uploads ---

func (x *Executor) uploadPhase(ctx context.Context, reqCtx *types.RequestContext, d diff.Result, state State, folders map[string]string, opts Options, summary *Summary, mu *sync.Mutex) error {
	// Remote folders first, shallowest to deepest, so every file upload
	// has its parent id in hand
	dirs := make([]diff.Item, 0)
	files := make([]diff.Item, 0)
	for _, item := range d.NewLocal {
		if item.Local != nil && item.Local.IsDir {
			dirs = append(dirs, item)
		} else {
			files = append(files, item)
		}
	}
	sortItemsByDepth(dirs, true)

	for _, item := range dirs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := x.ensureRemoteFolder(ctx, reqCtx, folders, item.Path, summary); err != nil {
			x.recordError(summary, item.Path, "mkdir", err)
			continue
		}
		mu.Lock()
		state.Remote[item.Path] = scanner.RemoteEntry{
			Path: item.Path, ID: folders[item.Path], IsDir: true, MimeType: utils.MimeTypeFolder,
		}
		mu.Unlock()
	}

	// Parent folders for nested new files, created before the
	// concurrent part so the folder map is read-only afterwards
	for _, item := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := x.ensureRemoteFolder(ctx, reqCtx, folders, parentPath(item.Path), summary); err != nil {
			x.recordError(summary, item.Path, "mkdir", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeConcurrency(opts.Concurrency))

	for _, item := range files {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := x.uploadOne(gctx, reqCtx, item.Path, "", state, folders, summary, mu); err != nil {
				x.recordErrorLocked(summary, mu, item.Path, "upload", err)
			}
			return nil
		})
	}
	for _, item := range d.ChangedLocal {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			existingID := ""
			if item.Remote != nil {
				existingID = item.Remote.ID
			}
			if err := x.uploadOne(gctx, reqCtx, item.Path, existingID, state, folders, summary, mu); err != nil {
				x.recordErrorLocked(summary, mu, item.Path, "upload", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (x *Executor) uploadOne(ctx context.Context, reqCtx *types.RequestContext, relPath, existingID string, state State, folders map[string]string, summary *Summary, mu *sync.Mutex) error {
	abs := filepath.Join(state.VaultRoot, filepath.FromSlash(relPath))
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}

	parentID := folders[parentPath(relPath)]
	if parentID == "" && existingID == "" {
		return fmt.Errorf("no remote parent for %s", relPath)
	}

	result, err := x.transfers.Upload(ctx, reqCtx, path.Base(relPath), data, "", parentID, existingID)
	if err != nil {
		return err
	}

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	state.Remote[relPath] = scanner.RemoteEntry{
		Path:         relPath,
		ID:           result.ID,
		ParentID:     parentID,
		Size:         result.Size,
		ModifiedTime: result.ModifiedTime,
		MD5Checksum:  result.MD5Checksum,
		MimeType:     result.MimeType,
	}
	summary.Uploaded++
	summary.BytesUploaded += int64(len(data))

	x.logger.Debug("uploaded", logging.F("path", relPath), logging.F("bytes", len(data)))
	return nil
}

// --- downloads ---

func (x *Executor) downloadPhase(ctx context.Context, reqCtx *types.RequestContext, d diff.Result, state State, opts Options, summary *Summary, mu *sync.Mutex) error {
	dirs := make([]diff.Item, 0)
	files := make([]diff.Item, 0)
	for _, item := range d.NewRemote {
		if item.Remote != nil && item.Remote.IsDir {
			dirs = append(dirs, item)
		} else {
			files = append(files, item)
		}
	}
	sortItemsByDepth(dirs, true)

	for _, item := range dirs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := os.MkdirAll(filepath.Join(state.VaultRoot, filepath.FromSlash(item.Path)), 0755); err != nil {
			x.recordError(summary, item.Path, "mkdir", err)
			continue
		}
		mu.Lock()
		state.Local[item.Path] = scanner.LocalEntry{
			Path: item.Path, AbsPath: filepath.Join(state.VaultRoot, filepath.FromSlash(item.Path)), IsDir: true,
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeConcurrency(opts.Concurrency))

	for _, item := range files {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := x.downloadOne(gctx, reqCtx, *item.Remote, item.Path, "", state, summary, mu); err != nil {
				x.recordErrorLocked(summary, mu, item.Path, "download", err)
			}
			return nil
		})
	}
	for _, item := range d.ChangedRemote {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			// Skip the body when the local copy already has the remote
			// content
			ifMD5 := ""
			if item.Local != nil {
				ifMD5 = item.Local.Hash
			}
			if err := x.downloadOne(gctx, reqCtx, *item.Remote, item.Path, ifMD5, state, summary, mu); err != nil {
				x.recordErrorLocked(summary, mu, item.Path, "download", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (x *Executor) downloadOne(ctx context.Context, reqCtx *types.RequestContext, remote scanner.RemoteEntry, relPath, ifMD5 string, state State, summary *Summary, mu *sync.Mutex) error {
	data, notModified, err := x.transfers.Download(ctx, reqCtx, remote.ID, ifMD5)
	if err != nil {
		return err
	}

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}

	if notModified {
		summary.Skipped++
		x.logger.Debug("download skipped, content unchanged", logging.F("path", relPath))
		return nil
	}

	var mtime time.Time
	if remote.ModifiedTime != "" {
		if parsed, perr := time.Parse(time.RFC3339, remote.ModifiedTime); perr == nil {
			mtime = parsed
		}
	}
	if err := writeVaultFile(state.VaultRoot, relPath, data, mtime); err != nil {
		return err
	}

	entry := scanner.LocalEntry{
		Path:    relPath,
		AbsPath: filepath.Join(state.VaultRoot, filepath.FromSlash(relPath)),
		Size:    int64(len(data)),
		Hash:    remote.MD5Checksum,
	}
	if !mtime.IsZero() {
		entry.MTimeMS = mtime.UnixMilli()
	} else if info, statErr := os.Stat(entry.AbsPath); statErr == nil {
		entry.MTimeMS = info.ModTime().UnixMilli()
	}
	state.Local[relPath] = entry

	summary.Downloaded++
	summary.BytesDownloaded += int64(len(data))

	x.logger.Debug("downloaded", logging.F("path", relPath), logging.F("bytes", len(data)))
	return nil
}

// --- deletions ---

func (x *Executor) deletionPhase(ctx context.Context, reqCtx *types.RequestContext, d diff.Result, state State, summary *Summary) error {
	// Deepest first so directories empty out before their own removal
	goneRemotely := append([]diff.Item(nil), d.DeletedRemote...)
	goneLocally := append([]diff.Item(nil), d.DeletedLocal...)
	sortItemsByDepth(goneRemotely, false)
	sortItemsByDepth(goneLocally, false)

	removing := make(map[string]bool, len(goneRemotely))
	for _, item := range goneRemotely {
		removing[item.Path] = true
	}

	// The remote copy vanished: remove the vault copy
	for _, item := range goneRemotely {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		abs := filepath.Join(state.VaultRoot, filepath.FromSlash(item.Path))
		isDir := item.Local != nil && item.Local.IsDir
		var err error
		if isDir {
			// A conflict winner or a failed removal may still live under
			// this directory; wiping it would take the only surviving copy
			if hasLocalSurvivors(state.Local, removing, item.Path) {
				x.logger.Debug("keeping directory with surviving files", logging.F("path", item.Path))
				continue
			}
			err = os.RemoveAll(abs)
		} else {
			err = os.Remove(abs)
			if os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			x.recordError(summary, item.Path, "delete-local", err)
			continue
		}
		delete(state.Local, item.Path)
		summary.DeletedLocal++
	}

	// The vault copy vanished: remove the remote object
	for _, item := range goneLocally {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		remoteID := ""
		if item.Remote != nil {
			remoteID = item.Remote.ID
		} else if item.Prev != nil {
			remoteID = item.Prev.RemoteID
		}
		if remoteID == "" {
			continue
		}
		if err := x.remote.DeleteFile(ctx, reqCtx, remoteID); err != nil {
			x.recordError(summary, item.Path, "delete-remote", err)
			continue
		}
		delete(state.Remote, item.Path)
		summary.DeletedRemote++
	}

	return nil
}

// --- helpers ---

func (x *Executor) ensureRemoteFolder(ctx context.Context, reqCtx *types.RequestContext, folders map[string]string, relPath string, summary *Summary) (string, error) {
	if relPath == "" || relPath == "." {
		return folders[""], nil
	}
	if id, ok := folders[relPath]; ok {
		return id, nil
	}
	parentID, err := x.ensureRemoteFolder(ctx, reqCtx, folders, parentPath(relPath), summary)
	if err != nil {
		return "", err
	}
	created, err := x.remote.CreateFolder(ctx, reqCtx, path.Base(relPath), parentID)
	if err != nil {
		return "", err
	}
	folders[relPath] = created.ID
	summary.FoldersCreated++
	return created.ID, nil
}

func (x *Executor) recordError(summary *Summary, path, op string, err error) {
	x.logger.Error("sync operation failed",
		logging.F("op", op),
		logging.F("path", path),
		logging.F("error", err.Error()),
	)
	summary.Errors = append(summary.Errors, FileError{Path: path, Op: op, Err: err})
}

func (x *Executor) recordErrorLocked(summary *Summary, mu *sync.Mutex, path, op string, err error) {
	mu.Lock()
	defer mu.Unlock()
	x.recordError(summary, path, op, err)
}

// hasLocalSurvivors reports whether any local path under dir is not
// itself scheduled for removal
func hasLocalSurvivors(local map[string]scanner.LocalEntry, removing map[string]bool, dir string) bool {
	prefix := dir + "/"
	for p := range local {
		if strings.HasPrefix(p, prefix) && !removing[p] {
			return true
		}
	}
	return false
}

func remoteFolderMap(state State) map[string]string {
	folders := map[string]string{"": state.RemoteRootID}
	for p, entry := range state.Remote {
		if entry.IsDir {
			folders[p] = entry.ID
		}
	}
	return folders
}

func parentPath(relPath string) string {
	parent := path.Dir(relPath)
	if parent == "." {
		return ""
	}
	return parent
}

func normalizeConcurrency(n int) int {
	if n <= 0 {
		return utils.DefaultTransferConcurrency
	}
	return n
}

func sortItemsByDepth(items []diff.Item, ascending bool) {
	sort.Slice(items, func(i, j int) bool {
		di := strings.Count(items[i].Path, "/")
		dj := strings.Count(items[j].Path, "/")
		if di != dj {
			if ascending {
				return di < dj
			}
			return di > dj
		}
		return items[i].Path < items[j].Path
	})
}

// writeVaultFile writes atomically: temp file in the target directory,
// then rename over the destination.
func writeVaultFile(root, relPath string, data []byte, mtime time.Time) error {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".drivevault-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return err
	}
	if !mtime.IsZero() {
		_ = os.Chtimes(abs, mtime, mtime)
	}
	return nil
}
