package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/navigator/internal/appearance"
	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/explorer"
)

// Handler holds API route handlers.
type Handler struct {
	svc *explorer.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *explorer.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the vault path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, op, path string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("cache is shutting down"))
	default:
		slog.Error(op+" failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListFiles handles GET /api/files.
//
//	@Summary		List cached files with optional folder, tag and paging filters
//	@Tags			files
//	@Produce		json
//	@Param			prefix	query		string	false	"Folder"
//	@Param			tag		query		string	false	"Tag, including nested tags"
//	@Param			sort	query		string	false	"Sort mode"	Enums(modified-desc, modified-asc, created-desc, created-asc, title-asc, title-desc)
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	FileListResponse
//	@Security		BearerAuth
//	@Router			/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListFiles(r.Context(), explorer.ListQuery{
		Prefix: q.Get("prefix"),
		Tag:    q.Get("tag"),
		Sort:   q.Get("sort"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, "list files", q.Get("prefix"), err)
		return
	}
	writeJSON(w, http.StatusOK, FileListResponse{Files: items, Total: total})
}

// GetFile handles GET /api/files/*.
//
//	@Summary		Get the cached record and preview of one file
//	@Tags			files
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	FileDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files/{path} [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	detail, err := h.svc.GetFile(r.Context(), path)
	if err != nil {
		writeError(w, "get file", path, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetPreview handles GET /api/previews/*.
//
//	@Summary		Get the preview text of one file
//	@Tags			files
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	PreviewResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/previews/{path} [get]
func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	text, err := h.svc.Preview(r.Context(), path)
	if err != nil {
		writeError(w, "get preview", path, err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{Path: path, Preview: text})
}

// GetFeatureImage handles GET /api/feature-images/*?key=.
//
//	@Summary		Get the feature image thumbnail of one file
//	@Description	Responds 404 when the file's current image key differs from key.
//	@Tags			files
//	@Produce		image/jpeg
//	@Param			path	path	string	true	"File path"
//	@Param			key		query	string	true	"Expected feature image key"
//	@Success		200
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/feature-images/{path} [get]
func (h *Handler) GetFeatureImage(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	key := r.URL.Query().Get("key")
	if path == "" || key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and key are required"))
		return
	}
	blob, err := h.svc.FeatureImage(r.Context(), path, key)
	if err != nil {
		writeError(w, "get feature image", path, err)
		return
	}
	writeBlob(w, blob.ContentType, blob.Data)
}

// Tags handles GET /api/tags.
//
//	@Summary		Get the tag tree with per-node file counts
//	@Tags			navigation
//	@Produce		json
//	@Success		200	{object}	TagsResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TagsResponse{Tags: h.svc.Tags(r.Context())})
}

// PropertyValues handles GET /api/properties/{key}.
//
//	@Summary		Get value counts of a frontmatter property
//	@Tags			navigation
//	@Produce		json
//	@Param			key	path		string	true	"Property key"
//	@Success		200	{object}	PropertyValuesResponse
//	@Security		BearerAuth
//	@Router			/properties/{key} [get]
func (h *Handler) PropertyValues(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, http.StatusOK, PropertyValuesResponse{Key: key, Values: h.svc.PropertyValues(r.Context(), key)})
}

// Stats handles GET /api/stats.
//
//	@Summary		Get vault statistics
//	@Tags			navigation
//	@Produce		json
//	@Success		200	{object}	stats.Snapshot
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}

// Sync handles POST /api/sync.
//
//	@Summary		Reconcile the cache with the vault
//	@Tags			navigation
//	@Produce		json
//	@Success		200	{object}	SyncResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sync(r.Context())
	if err != nil {
		writeError(w, "sync", "", err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Scanned: res.Scanned, Queued: res.Queued, Removed: res.Removed})
}

// GetAppearance handles GET /api/appearance.
//
//	@Summary		Get all colors, icons, pins and sort overrides
//	@Tags			appearance
//	@Produce		json
//	@Success		200	{object}	appearance.Settings
//	@Security		BearerAuth
//	@Router			/appearance [get]
func (h *Handler) GetAppearance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Appearance().Settings())
}

// PutStyle handles PUT /api/appearance/{kind}/*.
//
//	@Summary		Set the color, background and icon of a node
//	@Tags			appearance
//	@Accept			json
//	@Produce		json
//	@Param			kind	path		string			true	"Node kind"	Enums(folder, tag, file, property)
//	@Param			key		path		string			true	"Folder or file path, tag or property key"
//	@Param			body	body		StyleRequest	true	"Style; empty fields clear"
//	@Success		200		{object}	StyleRequest
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/appearance/{kind}/{key} [put]
func (h *Handler) PutStyle(w http.ResponseWriter, r *http.Request) {
	kind, err := appearance.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	key := wildcardPath(r)
	var req StyleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Appearance().SetStyle(kind, key, req); err != nil {
		writeError(w, "set style", key, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Appearance().Style(kind, key))
}

// PutPins handles PUT /api/pins/*.
//
//	@Summary		Set the views a file is pinned in
//	@Tags			appearance
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string		true	"File path"
//	@Param			body	body		PinsRequest	true	"Pin contexts; all false unpins"
//	@Success		200		{object}	PinsRequest
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pins/{path} [put]
func (h *Handler) PutPins(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	var req PinsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.IsZero() && !h.svc.Cache().FileExists(path) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	if err := h.svc.Appearance().SetPins(path, req); err != nil {
		writeError(w, "set pins", path, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Appearance().Pins(path))
}

// PutSort handles PUT /api/sort/{kind}/*.
//
//	@Summary		Set or clear the sort override of a folder, tag or property node
//	@Tags			appearance
//	@Accept			json
//	@Param			kind	path	string		true	"Node kind"	Enums(folder, tag, property)
//	@Param			key		path	string		true	"Folder path, tag or property key"
//	@Param			body	body	SortRequest	true	"Sort mode"
//	@Success		204
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sort/{kind}/{key} [put]
func (h *Handler) PutSort(w http.ResponseWriter, r *http.Request) {
	kind, err := appearance.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	key := wildcardPath(r)
	var req SortRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Appearance().SetSortOverride(kind, key, req.Mode); err != nil {
		writeError(w, "set sort", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CleanupAppearance handles POST /api/appearance/cleanup.
//
//	@Summary		Remove appearance entries for vanished folders, files and tags
//	@Tags			appearance
//	@Produce		json
//	@Success		200	{object}	CleanupResponse
//	@Security		BearerAuth
//	@Router			/appearance/cleanup [post]
func (h *Handler) CleanupAppearance(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CleanupAppearance(r.Context())
	if err != nil {
		writeError(w, "appearance cleanup", "", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Removed: n})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}
