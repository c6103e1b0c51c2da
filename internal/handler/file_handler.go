package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/service"
)

// metadataHeaderPrefix marks request and response headers carrying file metadata.
const metadataHeaderPrefix = "X-Gridfs-Meta-"

// FileHandler serves the /files endpoints.
type FileHandler struct {
	files  *service.FileService
	logger zerolog.Logger
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(files *service.FileService, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		files:  files,
		logger: logger.With().Str("handler", "file").Logger(),
	}
}

// RegisterRoutes mounts the file routes on r.
func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Post("/files", h.handleCreate)
	r.Put("/files/{id}", h.handlePut)
	r.Get("/files/{id}", h.handleGet)
	r.Head("/files/{id}", h.handleHead)
	r.Delete("/files/{id}", h.handleDelete)
}

// fileResponse is the JSON rendering of a file document.
type fileResponse struct {
	ID          string            `json:"id"`
	Key         string            `json:"key"`
	Length      int64             `json:"length"`
	ChunkSize   int               `json:"chunk_size"`
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	MD5         string            `json:"md5,omitempty"`
	UploadDate  time.Time         `json:"upload_date"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newFileResponse(doc *domain.FileDocument) fileResponse {
	return fileResponse{
		ID:          fmt.Sprintf("%v", doc.ID),
		Key:         domain.MustFileKey(doc.ID),
		Length:      doc.Length,
		ChunkSize:   doc.ChunkSize,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		MD5:         doc.MD5,
		UploadDate:  doc.UploadDate,
		Metadata:    doc.Metadata,
	}
}

func (h *FileHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.put(w, r, nil, false)
}

func (h *FileHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidFileId", err.Error())
		return
	}
	h.put(w, r, id, true)
}

func (h *FileHandler) put(w http.ResponseWriter, r *http.Request, id any, replace bool) {
	query := r.URL.Query()

	var chunkSize int
	if raw := query.Get("chunk_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidChunkSize", "chunk_size must be an integer")
			return
		}
		chunkSize = n
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" {
		if _, _, err := mime.ParseMediaType(contentType); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidContentType", err.Error())
			return
		}
	}

	doc, err := h.files.PutFile(r.Context(), service.PutFileInput{
		ID:          id,
		Body:        r.Body,
		Filename:    query.Get("filename"),
		ContentType: contentType,
		ChunkSize:   chunkSize,
		Metadata:    metadataFromHeaders(r.Header),
		Replace:     replace,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newFileResponse(doc))
}

func (h *FileHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidFileId", err.Error())
		return
	}

	byteRange, err := service.ParseRange(r.Header.Get("Range"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out, err := h.files.GetFile(r.Context(), service.GetFileInput{ID: id, Range: byteRange})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRange) {
			if doc, headErr := h.files.HeadFile(r.Context(), id); headErr == nil {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", doc.Length))
			}
		}
		h.handleError(w, r, err)
		return
	}
	defer out.Body.Close()

	setFileHeaders(w.Header(), out.Document)
	w.Header().Set("Content-Length", strconv.FormatInt(out.ContentLength, 10))

	status := http.StatusOK
	if out.Partial {
		w.Header().Set("Content-Range", out.ContentRange())
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, out.Body); err != nil {
		// Headers are gone; all that is left is to log.
		h.logger.Error().Err(err).Str("file", domain.MustFileKey(id)).Msg("Failed to stream file")
	}
}

func (h *FileHandler) handleHead(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	doc, err := h.files.HeadFile(r.Context(), id)
	if err != nil {
		status, _ := errorStatus(err)
		w.WriteHeader(status)
		return
	}

	setFileHeaders(w.Header(), doc)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.Length, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *FileHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidFileId", err.Error())
		return
	}

	if err := h.files.DeleteFile(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleError maps service and domain errors to responses.
func (h *FileHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrFileNotFound):
		return http.StatusNotFound, "NoSuchFile"
	case errors.Is(err, domain.ErrFileExists):
		return http.StatusConflict, "FileExists"
	case errors.Is(err, service.ErrFileLocked):
		return http.StatusConflict, "FileLocked"
	case errors.Is(err, domain.ErrInvalidRange), errors.Is(err, service.ErrInvalidRangeHeader):
		return http.StatusRequestedRangeNotSatisfiable, "InvalidRange"
	case errors.Is(err, domain.ErrInvalidFileID):
		return http.StatusBadRequest, "InvalidFileId"
	case errors.Is(err, domain.ErrInvalidChunkSize):
		return http.StatusBadRequest, "InvalidChunkSize"
	case errors.Is(err, domain.ErrIO):
		return http.StatusBadRequest, "IncompleteBody"
	case errors.Is(err, domain.ErrChunkMissing):
		return http.StatusInternalServerError, "CorruptFile"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

// fileID decodes the {id} path parameter.
func fileID(r *http.Request) (any, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("empty file id")
	}
	return domain.ParseExternalID(raw), nil
}

func setFileHeaders(h http.Header, doc *domain.FileDocument) {
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Last-Modified", doc.UploadDate.UTC().Format(http.TimeFormat))
	if doc.MD5 != "" {
		h.Set("ETag", `"`+doc.MD5+`"`)
	}
	if doc.Filename != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	}
	for k, v := range doc.Metadata {
		h.Set(metadataHeaderPrefix+k, v)
	}
}

func metadataFromHeaders(h http.Header) map[string]string {
	var meta map[string]string
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if !strings.HasPrefix(canonical, metadataHeaderPrefix) || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.ToLower(strings.TrimPrefix(canonical, metadataHeaderPrefix))] = values[0]
	}
	return meta
}
