package api

import (
	"github.com/starford/navigator/internal/appearance"
	"github.com/starford/navigator/internal/explorer"
)

// FileItem is a row of a file listing (aliased from the domain layer).
type FileItem = explorer.FileItem

// FileDetail is the full file response type (aliased from the domain layer).
type FileDetail = explorer.FileDetail

// FileListResponse wraps paginated file listings.
type FileListResponse struct {
	Files []FileItem `json:"files" validate:"required"`
	Total int        `json:"total" example:"42" validate:"required"`
}

// PreviewResponse carries the preview text of one file.
type PreviewResponse struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Preview string `json:"preview" example:"Hello world" validate:"required"`
}

// TagsResponse wraps the tag tree.
type TagsResponse struct {
	Tags []explorer.TagCount `json:"tags" validate:"required"`
}

// PropertyValuesResponse lists value counts of one property.
type PropertyValuesResponse struct {
	Key    string         `json:"key" example:"status" validate:"required"`
	Values map[string]int `json:"values" validate:"required"`
}

// SyncResponse reports a reconciliation run.
type SyncResponse struct {
	Scanned int `json:"scanned" example:"1200"`
	Queued  int `json:"queued" example:"3"`
	Removed int `json:"removed" example:"1"`
}

// StyleRequest sets the decoration of a folder, tag, file or property node.
type StyleRequest = appearance.Style

// PinsRequest sets the views a file is pinned in.
type PinsRequest = appearance.PinContext

// SortRequest sets or, with an empty mode, clears a sort override.
type SortRequest struct {
	Mode string `json:"mode" example:"modified-desc"`
}

// CleanupResponse reports removed sidecar entries.
type CleanupResponse struct {
	Removed int `json:"removed" example:"2"`
}
