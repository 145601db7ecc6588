package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/drivevault/drivevault/internal/sync/exclude"
	"github.com/drivevault/drivevault/internal/sync/index"
)

// ScanLocal walks the vault and returns every file and directory that
// survives exclusion and the extension filter, keyed by vault-relative
// path. Symlinks are skipped entirely. prev lets the scan reuse content
// hashes for files whose size and mtime have not moved.
func ScanLocal(ctx context.Context, root string, matcher *exclude.Matcher, opts LocalOptions, prev map[string]index.Entry) (map[string]LocalEntry, error) {
	entries := make(map[string]LocalEntry)

	err := filepath.WalkDir(root, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if matcher.IsExcluded(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.IsDir() {
			entries[rel] = LocalEntry{
				Path:    rel,
				AbsPath: current,
				IsDir:   true,
				MTimeMS: info.ModTime().UnixMilli(),
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		if !extensionAllowed(opts.Extensions, rel) {
			return nil
		}

		mtimeMS := info.ModTime().UnixMilli()
		hash := ""
		if prevEntry, ok := prev[rel]; ok &&
			prevEntry.Size == info.Size() &&
			prevEntry.LocalMTimeMS == mtimeMS &&
			prevEntry.RemoteMD5 != "" {
			hash = prevEntry.RemoteMD5
		} else {
			hash, err = hashFile(current)
			if err != nil {
				return err
			}
		}

		entries[rel] = LocalEntry{
			Path:    rel,
			AbsPath: current,
			Size:    info.Size(),
			MTimeMS: mtimeMS,
			Hash:    hash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func extensionAllowed(extensions map[string]bool, rel string) bool {
	if len(extensions) == 0 {
		return true
	}
	return extensions[strings.ToLower(path.Ext(rel))]
}

func hashFile(path string) (hash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
