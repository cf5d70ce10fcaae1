// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort        = "8080"
	DefaultDBPath      = "newsave.db"
	DefaultYtDlpBinary = "yt-dlp"
	DefaultConcurrency = 3
	RetryLimit         = 3
	RetryDelay         = 2 * time.Second
	FetchTimeout       = 30 * time.Second
	FetchMaxOutput     = 10 * 1024 * 1024 // structured-dump output cap
	SearchCount        = 5
	MaxHistoryEntries  = 100
	ShutdownTimeout    = 5 * time.Second
)

// Per-kind default container formats
const (
	DefaultAudioFormat = "mp3"
	DefaultVideoFormat = "mp4"
)

// QualityBest selects the extractor's maximum-quality token for either kind.
const QualityBest = "best"

// PlaylistOutputTemplate is the extractor's per-item filename template for
// playlist downloads, relative to the target directory.
const PlaylistOutputTemplate = "%(title)s.%(ext)s"

// File Extensions
const (
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
	ExtFLAC = ".flac"
	ExtOpus = ".opus"
	ExtMP4  = ".mp4"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Filename sanitization
const (
	InvalidPathChars  = "<>:\"/\\|?*"
	MaxFilenameLength = 200
)
