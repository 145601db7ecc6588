package api

import (
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"

	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

const fileFields = "id,name,mimeType,size,modifiedTime,md5Checksum,parents,trashed"

// ListChildren lists the direct children of a folder, one page at a time.
// modifiedAfter, when non-empty (RFC 3339), restricts results to files
// modified after that instant; folders always pass the filter so callers
// can keep descending.
func (c *Client) ListChildren(ctx context.Context, reqCtx *types.RequestContext, folderID, modifiedAfter, pageToken string) (*types.FileListResult, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	if modifiedAfter != "" {
		query += fmt.Sprintf(" and (modifiedTime > '%s' or mimeType = '%s')", modifiedAfter, utils.MimeTypeFolder)
	}

	call := c.service.Files.List().Q(query).
		Fields("nextPageToken,files(" + fileFields + ")")
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.FileList, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	files := make([]*types.DriveFile, len(result.Files))
	for i, f := range result.Files {
		files[i] = ConvertDriveFile(f)
	}

	return &types.FileListResult{
		Files:         files,
		NextPageToken: result.NextPageToken,
	}, nil
}

// GetFile fetches metadata for a single file
func (c *Client) GetFile(ctx context.Context, reqCtx *types.RequestContext, fileID string) (*types.DriveFile, error) {
	call := c.service.Files.Get(fileID).Fields(fileFields)

	result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	return ConvertDriveFile(result), nil
}

// CreateFolder creates a folder under parentID
func (c *Client) CreateFolder(ctx context.Context, reqCtx *types.RequestContext, name, parentID string) (*types.DriveFile, error) {
	metadata := &drive.File{
		Name:     name,
		MimeType: utils.MimeTypeFolder,
	}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	call := c.service.Files.Create(metadata).Fields(fileFields)

	result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	return ConvertDriveFile(result), nil
}

// FindFolder looks up a folder by name under parentID. Returns nil when
// no such folder exists.
func (c *Client) FindFolder(ctx context.Context, reqCtx *types.RequestContext, name, parentID string) (*types.DriveFile, error) {
	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(name), utils.MimeTypeFolder)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	call := c.service.Files.List().Q(query).PageSize(1).
		Fields("files(" + fileFields + ")")

	result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.FileList, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	if len(result.Files) == 0 {
		return nil, nil
	}
	return ConvertDriveFile(result.Files[0]), nil
}

// DeleteFile permanently deletes an object by id. A 404 is not an error:
// the object is already gone.
func (c *Client) DeleteFile(ctx context.Context, reqCtx *types.RequestContext, fileID string) error {
	_, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*struct{}, error) {
		err := c.service.Files.Delete(fileID).Do()
		return &struct{}{}, err
	})
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// GetStartPageToken fetches a fresh changes cursor
func (c *Client) GetStartPageToken(ctx context.Context, reqCtx *types.RequestContext) (string, error) {
	call := c.service.Changes.GetStartPageToken()

	result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.StartPageToken, error) {
		return call.Do()
	})
	if err != nil {
		return "", err
	}
	return result.StartPageToken, nil
}

// ListChangesPage fetches one page of the changes feed starting at
// pageToken and converts it to normalized events. A rejected cursor
// surfaces as ErrInvalidPageToken so the tracker can re-bootstrap.
func (c *Client) ListChangesPage(ctx context.Context, reqCtx *types.RequestContext, pageToken string) (*types.ChangePage, error) {
	call := c.service.Changes.List(pageToken).
		IncludeRemoved(true).
		Fields("nextPageToken,newStartPageToken,changes(fileId,removed,file(" + fileFields + "))")

	result, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*drive.ChangeList, error) {
		res, doErr := call.Do()
		if doErr != nil && IsInvalidPageToken(doErr) {
			return nil, ErrInvalidPageToken
		}
		return res, doErr
	})
	if err != nil {
		return nil, err
	}

	page := &types.ChangePage{
		NextPageToken:     result.NextPageToken,
		NewStartPageToken: result.NewStartPageToken,
	}
	for _, change := range result.Changes {
		if change.Removed || change.File == nil || change.File.Trashed {
			page.Events = append(page.Events, types.ChangeEvent{
				Kind:   types.ChangeFileRemoved,
				FileID: change.FileId,
			})
			continue
		}
		page.Events = append(page.Events, types.ChangeEvent{
			Kind:   types.ChangeFileChanged,
			FileID: change.FileId,
			File:   ConvertDriveFile(change.File),
		})
	}
	return page, nil
}

// ConvertDriveFile converts an SDK file into the internal representation
func ConvertDriveFile(f *drive.File) *types.DriveFile {
	return &types.DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		ModifiedTime: f.ModifiedTime,
		CreatedTime:  f.CreatedTime,
		Parents:      f.Parents,
		Trashed:      f.Trashed,
	}
}

func escapeQuery(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
