package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/logging"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// ProgressFunc is notified after each unit of transfer work. For chunked
// uploads current/total are byte offsets; for whole-file operations they
// are 0/size then size/size.
type ProgressFunc func(operation string, current, total int64, item string)

// Engine implements the upload and download strategies. Small files go up
// in one multipart request through the SDK; large files use a resumable
// session spoken directly against the upload endpoint so each chunk can
// report progress and retry independently.
type Engine struct {
	client     *api.Client
	httpClient *http.Client
	uploadBase string
	logger     logging.Logger
	onProgress ProgressFunc
}

// Options configures an Engine
type Options struct {
	// HTTPClient must carry OAuth credentials; used for resumable sessions
	HTTPClient *http.Client
	// UploadBase overrides the upload endpoint (tests)
	UploadBase string
	Logger     logging.Logger
	OnProgress ProgressFunc
}

// NewEngine creates a transfer engine
func NewEngine(client *api.Client, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	uploadBase := opts.UploadBase
	if uploadBase == "" {
		uploadBase = utils.DriveUploadBase
	}
	onProgress := opts.OnProgress
	if onProgress == nil {
		onProgress = func(string, int64, int64, string) {}
	}
	return &Engine{
		client:     client,
		httpClient: opts.HTTPClient,
		uploadBase: uploadBase,
		logger:     logger,
		onProgress: onProgress,
	}
}

// Upload sends content to Drive. When existingID is non-empty the object
// is updated in place, otherwise a new object is created under parentID.
// The strategy is chosen by size: at most UploadSimpleMaxBytes goes in a
// single request, anything larger uses a resumable session.
func (e *Engine) Upload(ctx context.Context, reqCtx *types.RequestContext, name string, content []byte, mimeType, parentID, existingID string) (*types.DriveFile, error) {
	if int64(len(content)) <= utils.UploadSimpleMaxBytes {
		return e.simpleUpload(ctx, reqCtx, name, content, mimeType, parentID, existingID)
	}
	return e.resumableUpload(ctx, reqCtx, name, content, mimeType, parentID, existingID)
}

func (e *Engine) simpleUpload(ctx context.Context, reqCtx *types.RequestContext, name string, content []byte, mimeType, parentID, existingID string) (*types.DriveFile, error) {
	e.onProgress("upload", 0, int64(len(content)), name)

	var result *drive.File
	var err error

	if existingID != "" {
		call := e.client.Service().Files.Update(existingID, &drive.File{}).
			Media(bytes.NewReader(content)).
			Fields("id,name,mimeType,size,modifiedTime,md5Checksum,parents")
		result, err = api.ExecuteWithRetry(ctx, e.client, reqCtx, func() (*drive.File, error) {
			return call.Do()
		})
	} else {
		metadata := &drive.File{Name: name}
		if mimeType != "" {
			metadata.MimeType = mimeType
		}
		if parentID != "" {
			metadata.Parents = []string{parentID}
		}
		call := e.client.Service().Files.Create(metadata).
			Media(bytes.NewReader(content)).
			Fields("id,name,mimeType,size,modifiedTime,md5Checksum,parents")
		result, err = api.ExecuteWithRetry(ctx, e.client, reqCtx, func() (*drive.File, error) {
			return call.Do()
		})
	}
	if err != nil {
		return nil, err
	}

	e.onProgress("upload", int64(len(content)), int64(len(content)), name)
	return api.ConvertDriveFile(result), nil
}

func (e *Engine) resumableUpload(ctx context.Context, reqCtx *types.RequestContext, name string, content []byte, mimeType, parentID, existingID string) (*types.DriveFile, error) {
	sessionURI, err := e.initiateSession(ctx, name, mimeType, parentID, existingID)
	if err != nil {
		return nil, err
	}

	total := int64(len(content))
	var final *types.DriveFile

	for offset := int64(0); offset < total; {
		end := offset + utils.UploadChunkBytes
		if end > total {
			end = total
		}
		chunk := content[offset:end]

		done, file, err := e.putChunk(ctx, sessionURI, chunk, offset, total)
		if err != nil {
			return nil, err
		}

		offset = end
		e.onProgress("upload", offset, total, name)

		if done {
			if offset != total {
				return nil, transferError(0, fmt.Sprintf("upload of %s completed after %d of %d bytes", name, offset, total))
			}
			final = file
		}
	}

	if final == nil {
		return nil, transferError(0, fmt.Sprintf("upload session for %s ended without final metadata", name))
	}

	e.logger.Debug("resumable upload complete",
		logging.F("name", name),
		logging.F("size", total),
		logging.F("remoteId", final.ID),
	)
	return final, nil
}

func (e *Engine) initiateSession(ctx context.Context, name, mimeType, parentID, existingID string) (string, error) {
	metadata := map[string]interface{}{}
	method := http.MethodPost
	url := e.uploadBase + "/files?uploadType=resumable"

	if existingID != "" {
		method = http.MethodPatch
		url = e.uploadBase + "/files/" + existingID + "?uploadType=resumable"
	} else {
		metadata["name"] = name
		if mimeType != "" {
			metadata["mimeType"] = mimeType
		}
		if parentID != "" {
			metadata["parents"] = []string{parentID}
		}
	}

	body, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := e.doWithRetry(req, func() io.Reader { return bytes.NewReader(body) })
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readTransferError(resp)
	}

	sessionURI := resp.Header.Get("Location")
	if sessionURI == "" {
		return "", transferError(resp.StatusCode, "resumable session granted no session URI")
	}
	return sessionURI, nil
}

// putChunk uploads one chunk. Returns done=true with the final file
// metadata when the server reports the upload complete; 308 means more
// chunks are expected.
func (e *Engine) putChunk(ctx context.Context, sessionURI string, chunk []byte, offset, total int64) (bool, *types.DriveFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, bytes.NewReader(chunk))
	if err != nil {
		return false, nil, err
	}
	end := offset + int64(len(chunk)) - 1
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))
	req.ContentLength = int64(len(chunk))

	resp, err := e.doWithRetry(req, func() io.Reader { return bytes.NewReader(chunk) })
	if err != nil {
		return false, nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 308:
		// Incomplete; the server acknowledges the range and wants more
		io.Copy(io.Discard, resp.Body)
		return false, nil, nil
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var f drive.File
		if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
			return false, nil, transferError(resp.StatusCode, fmt.Sprintf("malformed final metadata: %v", err))
		}
		return true, api.ConvertDriveFile(&f), nil
	default:
		return false, nil, readTransferError(resp)
	}
}

// doWithRetry retries 429/5xx responses with exponential backoff. The
// request body is rebuilt per attempt via newBody.
func (e *Engine) doWithRetry(req *http.Request, newBody func() io.Reader) (*http.Response, error) {
	var resp *http.Response
	var err error

	delay := time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond
	for attempt := 0; attempt <= utils.DefaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > time.Duration(utils.MaxRetryDelayMs)*time.Millisecond {
				delay = time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
			}
			body := newBody()
			req = req.Clone(req.Context())
			req.Body = io.NopCloser(body)
		}

		resp, err = e.httpClient.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			e.logger.Warn("transfer request failed, retrying",
				logging.F("status", resp.StatusCode),
				logging.F("attempt", attempt+1),
			)
			err = transferError(resp.StatusCode, "retryable transfer failure")
			continue
		}
		return resp, nil
	}

	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeTransferFailed, err.Error()).
			WithRetryable(true).
			Build())
	}
	return resp, nil
}

// Download fetches a file's content. When ifMD5 is non-empty and matches
// the remote md5Checksum the body is skipped and notModified=true is
// returned.
func (e *Engine) Download(ctx context.Context, reqCtx *types.RequestContext, fileID, ifMD5 string) ([]byte, bool, error) {
	if ifMD5 != "" {
		meta, err := e.client.GetFile(ctx, reqCtx, fileID)
		if err != nil {
			return nil, false, err
		}
		if meta.MD5Checksum != "" && meta.MD5Checksum == ifMD5 {
			return nil, true, nil
		}
	}

	call := e.client.Service().Files.Get(fileID)
	resp, err := api.ExecuteWithRetry(ctx, e.client, reqCtx, func() (*http.Response, error) {
		return call.Context(ctx).Download()
	})
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, utils.NewAppError(utils.NewCLIError(utils.ErrCodeTransferFailed,
			fmt.Sprintf("download of %s interrupted: %v", fileID, err)).
			WithRetryable(true).
			Build())
	}

	e.onProgress("download", int64(len(data)), int64(len(data)), fileID)
	return data, false, nil
}

func transferError(status int, message string) error {
	b := utils.NewCLIError(utils.ErrCodeTransferFailed, message)
	if status != 0 {
		b = b.WithHTTPStatus(status)
	}
	if status == 429 || status >= 500 {
		b = b.WithRetryable(true)
	}
	return utils.NewAppError(b.Build())
}

func readTransferError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	b := utils.NewCLIError(utils.ErrCodeTransferFailed,
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))).
		WithHTTPStatus(resp.StatusCode)
	if resp.StatusCode == 429 || resp.StatusCode >= 500 {
		b = b.WithRetryable(true)
	}
	return utils.NewAppError(b.Build())
}
