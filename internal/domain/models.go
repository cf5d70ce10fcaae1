package domain

import (
	"time"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Valid reports whether the kind is one of the two supported media kinds.
func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

type ItemStatus string

const (
	StatusPending     ItemStatus = "pending"
	StatusDownloading ItemStatus = "downloading"
	StatusCompleted   ItemStatus = "completed"
	StatusFailed      ItemStatus = "failed"
	StatusCancelled   ItemStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether a cancel request is valid in this status.
func (s ItemStatus) Cancellable() bool {
	return s == StatusPending || s == StatusDownloading
}

// QueueItem is one requested or in-flight download tracked through its state
// machine. The scheduler is the only writer of Status, Progress and RetryCount.
type QueueItem struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	Channel    string     `json:"channel,omitempty"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
	Kind       MediaKind  `json:"kind"`
	Format     string     `json:"format"`
	Quality    string     `json:"quality"`
	Status     ItemStatus `json:"status"`
	Progress   float64    `json:"progress"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	IsPlaylist bool       `json:"is_playlist"`
	Directory  string     `json:"directory,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HistoryEntry is an append-only record derived from a QueueItem at the moment
// of terminal success. FilePath is nulled when the file is deleted; the entry
// itself survives.
type HistoryEntry struct {
	ID          string    `json:"id" db:"id"`
	QueueID     int64     `json:"-" db:"queue_id"`
	URL         string    `json:"url" db:"url"`
	Title       string    `json:"title" db:"title"`
	Kind        MediaKind `json:"kind" db:"kind"`
	Format      string    `json:"format" db:"format"`
	Quality     string    `json:"quality" db:"quality"`
	FilePath    *string   `json:"file_path" db:"file_path"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// VideoInfo is the result of a single-item structured-info dump.
type VideoInfo struct {
	Title      string `json:"title"`
	Duration   int    `json:"duration"`
	Thumbnail  string `json:"thumbnail"`
	Channel    string `json:"channel"`
	URL        string `json:"url"`
	IsPlaylist bool   `json:"is_playlist"`
}

// SearchResult is a transient, non-persisted search candidate.
type SearchResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Duration  string `json:"duration"`
	Channel   string `json:"channel"`
}

// TagMeta is the metadata written into a finished media file.
type TagMeta struct {
	Title     string
	Artist    string
	SourceURL string
	CoverArt  []byte
}

// Settings is the persisted user configuration consumed by the core.
type Settings struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
	KeepHistory   bool   `json:"keep_history"`
	AutoPaste     bool   `json:"auto_paste"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// DefaultSettings mirrors the defaults the UI shell starts with.
func DefaultSettings() Settings {
	return Settings{
		Theme:         "dark",
		Notifications: true,
		KeepHistory:   true,
		AutoPaste:     true,
		MaxConcurrent: 3,
	}
}
