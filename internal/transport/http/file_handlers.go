package http

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freebox-portal/freebox-server/internal/core"
	"github.com/freebox-portal/freebox-server/internal/store"
)

// FileHandlers serves upload, download, listing and deletion of shared files.
type FileHandlers struct {
	store      store.Store
	hub        *core.Hub
	storageDir string
	log        *zerolog.Logger
}

// NewFileHandlers creates file handlers writing blobs under storageDir.
func NewFileHandlers(st store.Store, hub *core.Hub, storageDir string, logger *zerolog.Logger) *FileHandlers {
	return &FileHandlers{
		store:      st,
		hub:        hub,
		storageDir: storageDir,
		log:        logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Success bool        `json:"success"`
	File    FileSummary `json:"file"`
}

// FileSummary is a stored file as presented over REST.
type FileSummary struct {
	ID            int64  `json:"id"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mime_type,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	DownloadCount int64  `json:"download_count"`
	Description   string `json:"description,omitempty"`
}

func fileSummary(f *store.File) FileSummary {
	return FileSummary{
		ID:            f.ID,
		Filename:      f.OriginalName,
		Size:          f.Size,
		MimeType:      f.MimeType,
		CreatedAt:     f.CreatedAt.Unix(),
		DownloadCount: f.DownloadCount,
		Description:   f.Description,
	}
}

// List handles GET /api/files.
func (h *FileHandlers) List(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)

	files, err := h.store.ListFiles(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list files")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	summaries := make([]FileSummary, 0, len(files))
	for _, f := range files {
		summaries = append(summaries, fileSummary(f))
	}
	c.JSON(http.StatusOK, summaries)
}

// Upload handles POST /api/upload.
func (h *FileHandlers) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no file part"})
		return
	}
	originalName := filepath.Base(header.Filename)
	if originalName == "" || originalName == "." || originalName == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no selected file"})
		return
	}

	src, err := header.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("open uploaded file")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	defer src.Close()

	// Unique stored name so a later upload never overwrites an earlier one.
	ext := filepath.Ext(originalName)
	base := strings.TrimSuffix(originalName, ext)
	storedName := fmt.Sprintf("%s_%.8x%s", base, uuid.New(), ext)
	path := filepath.Join(h.storageDir, storedName)

	dst, err := os.Create(path)
	if err != nil {
		h.log.Error().Err(err).Str("path", path).Msg("create stored file")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hash), src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		h.log.Error().Err(err).Str("path", path).Msg("write stored file")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	record, err := h.store.AddFile(c.Request.Context(), &store.File{
		StoredName:   storedName,
		OriginalName: originalName,
		Size:         size,
		MimeType:     mimeType,
		UploaderAddr: c.ClientIP(),
		Description:  c.PostForm("description"),
		SHA256:       hex.EncodeToString(hash.Sum(nil)),
	})
	if err != nil {
		os.Remove(path)
		h.log.Error().Err(err).Str("name", originalName).Msg("record uploaded file")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.hub.NotifyFileListChanged()
	h.log.Info().Str("name", originalName).Int64("size", size).Msg("file uploaded")

	c.JSON(http.StatusOK, UploadResponse{Success: true, File: fileSummary(record)})
}

// DownloadByID handles GET /api/download/:id.
func (h *FileHandlers) DownloadByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid file id"})
		return
	}

	record, err := h.store.FileByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "load file")
		return
	}

	h.serveDownload(c, record)
}

// DownloadByName handles GET /api/download/filename/*name.
func (h *FileHandlers) DownloadByName(c *gin.Context) {
	name := filepath.Base(strings.TrimPrefix(c.Param("name"), "/"))
	if name == "" || name == "." {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid filename"})
		return
	}

	record, err := h.store.FileByStoredName(c.Request.Context(), name)
	if err != nil {
		h.notFoundOrError(c, err, "load file")
		return
	}

	h.serveDownload(c, record)
}

func (h *FileHandlers) serveDownload(c *gin.Context, record *store.File) {
	path := filepath.Join(h.storageDir, record.StoredName)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
		return
	}

	updated, err := h.store.IncrementDownloads(c.Request.Context(), record.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("file_id", record.ID).Msg("increment download count")
		updated = record
	}

	h.hub.NotifyFileDownloaded(updated)

	c.FileAttachment(path, record.OriginalName)
}

// Delete handles DELETE /api/files/:id.
func (h *FileHandlers) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid file id"})
		return
	}

	record, err := h.store.FileByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "load file")
		return
	}

	path := filepath.Join(h.storageDir, record.StoredName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.log.Error().Err(err).Str("path", path).Msg("remove stored file")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.DeleteFile(c.Request.Context(), id); err != nil {
		h.notFoundOrError(c, err, "delete file record")
		return
	}

	h.hub.NotifyFileListChanged()
	h.log.Info().Int64("file_id", id).Str("name", record.OriginalName).Msg("file deleted")

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *FileHandlers) notFoundOrError(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
		return
	}
	h.log.Error().Err(err).Msg(msg)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
