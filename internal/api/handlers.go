package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"blob-vault/internal/blob"
	"blob-vault/internal/fetch"
	"blob-vault/internal/hub"
	"blob-vault/internal/middleware"
	"blob-vault/internal/rowstream"
	"blob-vault/internal/security"
	"blob-vault/internal/store"
	"blob-vault/internal/worker"
)

const (
	maxUploadSize  = 1 << 30 // 1GB
	maxRequestBody = 1 << 20 // JSON bodies
	sessionTTL     = 24 * time.Hour
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware does the origin filtering
	},
}

type Handler struct {
	Store     *store.Store
	Blobs     blob.Store
	Hub       *hub.Hub
	Pool      *worker.Pool
	CursorSem *semaphore.Weighted

	JWTSecret     string
	APISecret     string
	ReportTimeout time.Duration
}

func NewHandler(s *store.Store, blobs blob.Store, h *hub.Hub, pool *worker.Pool, cursorSem *semaphore.Weighted) *Handler {
	return &Handler{
		Store:     s,
		Blobs:     blobs,
		Hub:       h,
		Pool:      pool,
		CursorSem: cursorSem,
	}
}

// --- File Handlers ---

// HandleFiles serves the /files collection: POST uploads, GET lists.
func (h *Handler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleUpload(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleFile serves one file under /files/{id}: GET downloads, DELETE removes.
func (h *Handler) HandleFile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/files/")
	if err := security.ValidateFileID(id); err != nil {
		http.Error(w, "Invalid file id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleDownload(w, r, id)
	case http.MethodDelete:
		h.handleDelete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := security.ValidateFilename(header.Filename); err != nil {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	key, size, err := h.Blobs.Create(r.Context(), file)
	if err != nil {
		slog.Error("Blob write failed", "name", header.Filename, "error", err)
		http.Error(w, "Upload failed", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := &store.FileMeta{
		ID:          uuid.New().String(),
		Name:        header.Filename,
		ContentType: contentType,
		Size:        size,
		BlobKey:     key,
		Backend:     h.Blobs.Name(),
	}
	if err := h.Store.CreateFile(r.Context(), meta); err != nil {
		// Orphaned blob cleanup: the metadata row is the source of truth.
		_ = h.Blobs.Delete(r.Context(), key)
		slog.Error("File insert failed", "name", header.Filename, "error", err)
		http.Error(w, "Upload failed", http.StatusInternalServerError)
		return
	}

	slog.Info("File uploaded", "id", meta.ID, "name", meta.Name, "size", size, "backend", meta.Backend)
	h.Hub.Broadcast(hub.Event{Type: hub.EventUploadComplete, FileID: meta.ID, Bytes: size})

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(meta)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	files, err := h.Store.ListFiles(r.Context(), limit, offset)
	if err != nil {
		slog.Error("File listing failed", "error", err)
		http.Error(w, "Listing failed", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []store.FileMeta{}
	}
	json.NewEncoder(w).Encode(files)
}

// downloadMeta is the extra data carried next to the blob handle in a
// download row.
type downloadMeta struct {
	Name        string
	ContentType string
	Size        int64
}

// handleDownload is the single-row fetch in action: one read-only cursor
// transaction backs both the metadata lookup and the lazy content stream,
// and it is released only once the response body has been fully drained.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if err := h.CursorSem.Acquire(ctx, 1); err != nil {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer h.CursorSem.Release(1)

	scan := func(tx *sql.Tx, rows *sql.Rows) (fetch.Row[downloadMeta], error) {
		var key string
		var meta downloadMeta
		if err := rows.Scan(&key, &meta.Name, &meta.ContentType, &meta.Size); err != nil {
			return fetch.Row[downloadMeta]{}, err
		}
		obj, err := h.Blobs.ObjectInTx(tx, key)
		if err != nil {
			return fetch.Row[downloadMeta]{}, err
		}
		return fetch.Row[downloadMeta]{Object: obj, Extra: meta}, nil
	}

	pub := rowstream.NewQueryPublisher(h.Store.DB(), h.Store.DownloadQuery(), scan, id)

	result, err := fetch.One[downloadMeta](ctx, pub).Await(ctx)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		slog.Error("Download fetch failed", "id", id, "error", err)
		http.Error(w, "Download failed", http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", result.Extra.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(result.Length, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Extra.Name))

	h.Hub.Broadcast(hub.Event{Type: hub.EventDownloadStarted, FileID: id})

	// Copying to the client drains the stream, which fires the release of
	// the cursor transaction. If the client disconnects mid-stream the
	// request context cancels the transaction instead.
	n, err := io.Copy(w, result.Data)
	if err != nil {
		slog.Warn("Download interrupted", "id", id, "bytes_sent", n, "error", err)
		return
	}

	slog.Info("File downloaded", "id", id, "bytes", n)
	h.Hub.Broadcast(hub.Event{Type: hub.EventDownloadComplete, FileID: id, Bytes: n})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	meta, err := h.Store.DeleteFile(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		slog.Error("File delete failed", "id", id, "error", err)
		http.Error(w, "Delete failed", http.StatusInternalServerError)
		return
	}

	if err := h.Blobs.Delete(r.Context(), meta.BlobKey); err != nil {
		// Metadata row is already gone; log the stray blob and move on.
		slog.Warn("Blob delete failed", "id", id, "key", meta.BlobKey, "error", err)
	}

	slog.Info("File deleted", "id", id, "name", meta.Name)
	w.WriteHeader(http.StatusNoContent)
}

// --- Auth Handlers ---

type AuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := security.ValidateEmail(req.Email); err != nil {
		http.Error(w, "Invalid email", http.StatusBadRequest)
		return
	}

	if err := h.Store.CreateUser(r.Context(), req.Email, req.Password); err != nil {
		slog.Error("Register failed", "error", err)
		http.Error(w, "Email already exists or DB error", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"message": "User created"})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := h.Store.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	resp := map[string]any{"user": user}
	if h.JWTSecret != "" {
		token, err := middleware.IssueToken(h.JWTSecret, user.ID, user.Email, sessionTTL)
		if err != nil {
			slog.Error("Token issue failed", "error", err)
			http.Error(w, "Login failed", http.StatusInternalServerError)
			return
		}
		resp["token"] = token
	}
	json.NewEncoder(w).Encode(resp)
}

// --- API Key Handlers ---

type CreateKeyRequest struct {
	UserID int    `json:"user_id"`
	Type   string `json:"type"` // "live" or "test"
}

func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// An authenticated session overrides whatever the body claims.
	if uid := middleware.UserID(r.Context()); uid != 0 {
		req.UserID = uid
	}
	if req.Type != "live" && req.Type != "test" {
		http.Error(w, "Type must be live or test", http.StatusBadRequest)
		return
	}

	key, err := h.Store.CreateAPIKey(r.Context(), req.UserID, req.Type)
	if err != nil {
		slog.Error("Create key failed", "error", err)
		http.Error(w, "Failed to create key", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"key": key, "type": req.Type})
}

func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := middleware.UserID(r.Context())
	if userID == 0 {
		if _, err := fmt.Sscan(r.URL.Query().Get("user_id"), &userID); err != nil {
			http.Error(w, "Missing user_id", http.StatusBadRequest)
			return
		}
	}

	keys, err := h.Store.ListAPIKeys(r.Context(), userID)
	if err != nil {
		slog.Error("List keys failed", "error", err)
		http.Error(w, "Failed to list keys", http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []store.APIKey{}
	}
	json.NewEncoder(w).Encode(keys)
}

// --- Report Handler ---

type ReportRequest struct {
	Format string `json:"format"`
	Email  string `json:"email"`
}

// HandleReport queues an inventory report. The route is admin-only and
// guarded by an HMAC signature over method, path, body and timestamp.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := security.VerifyHMAC(
		h.APISecret,
		r.Method,
		r.URL.Path,
		string(body),
		r.Header.Get("X-Timestamp"),
		r.Header.Get("X-Signature"),
	); err != nil {
		slog.Warn("Report request rejected", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var req ReportRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	switch req.Format {
	case "", "csv", "json", "excel", "pdf":
	default:
		http.Error(w, "Unsupported format", http.StatusBadRequest)
		return
	}
	if req.Email != "" {
		if err := security.ValidateEmail(req.Email); err != nil {
			http.Error(w, "Invalid email", http.StatusBadRequest)
			return
		}
	}

	job := worker.NewReportJob(req.Format, req.Email, h.ReportTimeout)
	if !h.Pool.Submit(job) {
		job.Cancel()
		http.Error(w, "Report queue full", http.StatusServiceUnavailable)
		return
	}

	slog.Info("Report queued", "job_id", job.ID, "format", job.Format)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

// HandleJob reports the status of a queued report job.
func (h *Handler) HandleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	snap, ok := h.Pool.JobStatus(id)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

// --- Dashboard Handler ---

func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Dashboard upgrade failed", "error", err)
		return
	}

	h.Hub.Register(conn)

	// Keep connection open
	for {
		if _, _, err := conn.NextReader(); err != nil {
			h.Hub.Unregister(conn)
			break
		}
	}
}
