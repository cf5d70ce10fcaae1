package extractor

import (
	"errors"
	"fmt"
)

// ErrCancelled reports that the external process was stopped on request
// rather than failing on its own.
var ErrCancelled = errors.New("download cancelled")

// SpawnError means the yt-dlp process could not be started at all,
// usually because the binary is missing from PATH.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExtractionError means the process started but exited with a failure code.
type ExtractionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExtractionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("yt-dlp exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("yt-dlp exited with code %d", e.ExitCode)
}

// FetchError means a metadata lookup failed or produced unusable output.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch info for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
