package models

import "time"

// Server-side thumbnail job states, as reported by the request and poll endpoints.
const (
	ThumbnailPending = "pending"
	ThumbnailRunning = "running"
	ThumbnailReady   = "ready"
	ThumbnailFailed  = "failed"
)

// ThumbnailRequest asks the server to render (or return) a thumbnail for a file.
type ThumbnailRequest struct {
	FileID       int64  `json:"file_id"`
	MaxDimension int    `json:"max_dimension,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// Thumbnail is the server snapshot of a thumbnail job.
// Only the fields the client acts on are required; the rest are informational.
type Thumbnail struct {
	ThumbKey     string     `json:"thumb_key"`
	FileID       int64      `json:"file_id,omitempty"`
	GroupKey     *string    `json:"group_key,omitempty"`
	Status       string     `json:"status"`
	MediaType    string     `json:"media_type,omitempty"`
	Format       string     `json:"format,omitempty"`
	MaxDimension int        `json:"max_dimension,omitempty"`
	Width        *int       `json:"width,omitempty"`
	Height       *int       `json:"height,omitempty"`
	BytesSize    *int64     `json:"bytes_size,omitempty"`
	ContentURL   *string    `json:"content_url,omitempty"`
	RetryAfter   *time.Time `json:"retry_after,omitempty"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ErrorCount   int        `json:"error_count,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// IsReady reports a ready snapshot that carries a content reference.
func (t *Thumbnail) IsReady() bool {
	return t != nil && t.Status == ThumbnailReady && t.ContentURL != nil && *t.ContentURL != ""
}

// Reason returns a short human-readable failure reason for a failed snapshot.
func (t *Thumbnail) Reason() string {
	if t == nil {
		return ""
	}
	if t.ErrorCode != nil && *t.ErrorCode != "" {
		return *t.ErrorCode
	}
	if t.ErrorMessage != nil && *t.ErrorMessage != "" {
		return *t.ErrorMessage
	}
	return "generation failed"
}

// ThumbnailMetrics reports the server's thumbnail queue state.
type ThumbnailMetrics struct {
	GeneratedAt          time.Time `json:"generated_at"`
	QueueDepth           int       `json:"queue_depth"`
	QueuePending         int       `json:"queue_pending"`
	QueueRunning         int       `json:"queue_running"`
	RetryBacklog         int       `json:"retry_backlog"`
	RetryReady           int       `json:"retry_ready"`
	CleanupPending       int       `json:"cleanup_pending"`
	CleanupRunning       int       `json:"cleanup_running"`
	CleanupOverdue       int       `json:"cleanup_overdue"`
	CleanupMaxLagSeconds int       `json:"cleanup_max_lag_seconds"`
}

// GroupCleanupRequest schedules removal of a group's rendered thumbnails.
type GroupCleanupRequest struct {
	GroupKey     string `json:"group_key"`
	DelaySeconds *int   `json:"delay_seconds,omitempty"`
}

// GroupCleanup is the server snapshot of a scheduled cleanup.
type GroupCleanup struct {
	ID           int64      `json:"id"`
	GroupKey     string     `json:"group_key"`
	Status       string     `json:"status"`
	ExecuteAfter time.Time  `json:"execute_after"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Health is the response of the health endpoint.
type Health struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	DryRun      bool      `json:"dry_run"`
	Timestamp   time.Time `json:"timestamp"`
}
