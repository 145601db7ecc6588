package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/drivevault/drivevault/internal/api"
	"github.com/drivevault/drivevault/internal/types"
	"github.com/drivevault/drivevault/internal/utils"
)

// resumableServer emulates the upload endpoint: session initiation
// returning a Location header, then chunk PUTs answered with 308 until
// the final byte arrives.
type resumableServer struct {
	t           *testing.T
	received    bytes.Buffer
	ranges      []string
	initMethod  string
	initPath    string
	failancy    map[int]int // chunk index -> number of failures to inject
	chunkPuts   int
	sessionPath string
}

func (s *resumableServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files", s.handleInit)
	mux.HandleFunc("/files/", s.handleInit)
	mux.HandleFunc(s.sessionPath, s.handleChunk)
	return mux
}

func (s *resumableServer) handleInit(w http.ResponseWriter, r *http.Request) {
	s.initMethod = r.Method
	s.initPath = r.URL.Path
	if r.URL.Query().Get("uploadType") != "resumable" {
		http.Error(w, "expected resumable", http.StatusBadRequest)
		return
	}
	w.Header().Set("Location", "http://"+r.Host+s.sessionPath)
	w.WriteHeader(http.StatusOK)
}

func (s *resumableServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	idx := s.chunkPuts
	s.chunkPuts++

	if remaining := s.failancy[idx]; remaining > 0 {
		s.failancy[idx] = remaining - 1
		s.chunkPuts-- // the retry replays the same chunk index
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	cr := r.Header.Get("Content-Range")
	s.ranges = append(s.ranges, cr)

	var start, end, total int64
	if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		http.Error(w, "bad Content-Range", http.StatusBadRequest)
		return
	}

	body, _ := io.ReadAll(r.Body)
	if int64(len(body)) != end-start+1 {
		http.Error(w, "body length mismatch", http.StatusBadRequest)
		return
	}
	s.received.Write(body)

	if end+1 < total {
		w.WriteHeader(308)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":          "uploaded-file-id",
		"name":        "big.bin",
		"md5Checksum": "abc123",
		"size":        fmt.Sprintf("%d", total),
	})
}

func newTestEngine(srv *httptest.Server) *Engine {
	return NewEngine(nil, Options{
		HTTPClient: srv.Client(),
		UploadBase: srv.URL,
	})
}

func TestResumableUploadChunksAndReassembles(t *testing.T) {
	content := make([]byte, utils.UploadChunkBytes*2+1000)
	for i := range content {
		content[i] = byte(i % 251)
	}

	rs := &resumableServer{t: t, sessionPath: "/session/abc"}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	engine := newTestEngine(srv)
	file, err := engine.resumableUpload(context.Background(), nil, "big.bin", content, "application/octet-stream", "parent-id", "")
	if err != nil {
		t.Fatalf("resumableUpload() error = %v", err)
	}

	if file.ID != "uploaded-file-id" {
		t.Errorf("file ID = %q, want uploaded-file-id", file.ID)
	}
	if !bytes.Equal(rs.received.Bytes(), content) {
		t.Errorf("server received %d bytes, content mismatch", rs.received.Len())
	}
	if len(rs.ranges) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(rs.ranges))
	}

	total := int64(len(content))
	wantRanges := []string{
		fmt.Sprintf("bytes 0-%d/%d", utils.UploadChunkBytes-1, total),
		fmt.Sprintf("bytes %d-%d/%d", utils.UploadChunkBytes, utils.UploadChunkBytes*2-1, total),
		fmt.Sprintf("bytes %d-%d/%d", utils.UploadChunkBytes*2, total-1, total),
	}
	for i, want := range wantRanges {
		if rs.ranges[i] != want {
			t.Errorf("chunk %d Content-Range = %q, want %q", i, rs.ranges[i], want)
		}
	}
	if rs.initMethod != http.MethodPost {
		t.Errorf("session initiated with %s, want POST", rs.initMethod)
	}
}

func TestResumableUploadUpdatesInPlace(t *testing.T) {
	content := make([]byte, utils.UploadChunkBytes+10)

	rs := &resumableServer{t: t, sessionPath: "/session/upd"}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	engine := newTestEngine(srv)
	_, err := engine.resumableUpload(context.Background(), nil, "big.bin", content, "", "", "existing-id")
	if err != nil {
		t.Fatalf("resumableUpload() error = %v", err)
	}

	if rs.initMethod != http.MethodPatch {
		t.Errorf("session initiated with %s, want PATCH for in-place update", rs.initMethod)
	}
	if !strings.HasSuffix(rs.initPath, "/files/existing-id") {
		t.Errorf("session path = %q, want suffix /files/existing-id", rs.initPath)
	}
}

func TestResumableUploadRetriesTransientChunkFailures(t *testing.T) {
	content := make([]byte, utils.UploadChunkBytes+10)
	for i := range content {
		content[i] = byte(i)
	}

	rs := &resumableServer{
		t:           t,
		sessionPath: "/session/retry",
		failancy:    map[int]int{1: 2}, // second chunk fails twice before succeeding
	}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	engine := newTestEngine(srv)
	file, err := engine.resumableUpload(context.Background(), nil, "big.bin", content, "", "p", "")
	if err != nil {
		t.Fatalf("resumableUpload() error = %v", err)
	}
	if file == nil || file.ID != "uploaded-file-id" {
		t.Fatalf("unexpected file result: %+v", file)
	}
	if !bytes.Equal(rs.received.Bytes(), content) {
		t.Errorf("content mismatch after retried chunks")
	}
}

func TestResumableUploadSurfacesPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "quota exceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	engine := newTestEngine(srv)
	_, err := engine.resumableUpload(context.Background(), nil, "big.bin", make([]byte, 100), "", "p", "")
	if err == nil {
		t.Fatal("resumableUpload() expected error, got nil")
	}
	if !utils.IsCode(err, utils.ErrCodeTransferFailed) {
		t.Errorf("error code = %v, want TRANSFER_FAILED", err)
	}
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "file body")
	}))
	defer srv.Close()

	service, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	client := api.NewClient(service, 3, 1, nil)
	engine := NewEngine(client, Options{HTTPClient: srv.Client()})

	reqCtx := api.NewRequestContext("default", types.RequestTypeTransfer)
	data, notModified, err := engine.Download(context.Background(), reqCtx, "file-1", "")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if notModified || string(data) != "file body" {
		t.Errorf("Download() = %q (notModified=%v)", data, notModified)
	}
	if hits != 3 {
		t.Errorf("server hit %d times, want 2 failures then success", hits)
	}
}

func TestUploadProgressReportsByteOffsets(t *testing.T) {
	content := make([]byte, utils.UploadChunkBytes*2)

	rs := &resumableServer{t: t, sessionPath: "/session/prog"}
	srv := httptest.NewServer(rs.handler())
	defer srv.Close()

	var offsets []int64
	engine := NewEngine(nil, Options{
		HTTPClient: srv.Client(),
		UploadBase: srv.URL,
		OnProgress: func(op string, current, total int64, item string) {
			if op != "upload" {
				t.Errorf("operation = %q, want upload", op)
			}
			offsets = append(offsets, current)
		},
	})

	if _, err := engine.resumableUpload(context.Background(), nil, "big.bin", content, "", "p", ""); err != nil {
		t.Fatalf("resumableUpload() error = %v", err)
	}

	want := []int64{int64(utils.UploadChunkBytes), int64(utils.UploadChunkBytes * 2)}
	if len(offsets) != len(want) {
		t.Fatalf("progress calls = %d, want %d", len(offsets), len(want))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
}
