package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/newsave/newsave/internal/constants"
	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/logger"
)

// Fetcher runs metadata-only yt-dlp invocations: structured info dumps and
// search. It never downloads media.
type Fetcher struct {
	binary string
	logger *logger.Logger
}

func NewFetcher(binary string, log *logger.Logger) *Fetcher {
	if binary == "" {
		binary = constants.DefaultYtDlpBinary
	}
	return &Fetcher{
		binary: binary,
		logger: log.WithComponent("fetcher"),
	}
}

// rawInfo is the subset of the yt-dlp JSON dump the application reads.
type rawInfo struct {
	Type       string  `json:"_type"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Channel    string `json:"channel"`
	Uploader   string `json:"uploader"`
	WebpageURL string `json:"webpage_url"`
	URL        string `json:"url"`
	ID         string `json:"id"`
}

func (f *Fetcher) dump(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.FetchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// The cap is enforced while reading so a runaway dump never occupies
	// more than one byte past the limit.
	out, readErr := io.ReadAll(io.LimitReader(stdout, int64(constants.FetchMaxOutput)+1))
	tooBig := len(out) > constants.FetchMaxOutput
	if tooBig {
		cancel()
	}
	waitErr := cmd.Wait()

	if tooBig {
		return nil, fmt.Errorf("output exceeds %d bytes", constants.FetchMaxOutput)
	}
	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s", constants.FetchTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", waitErr, msg)
		}
		return nil, waitErr
	}
	return out, nil
}

// FetchInfo returns the metadata for a single URL. The playlist flag comes
// from the record type in the dump, not from the URL's shape.
func (f *Fetcher) FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	out, err := f.dump(ctx, "--dump-json", "--no-playlist", url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	var raw rawInfo
	if err := json.Unmarshal(bytes.TrimSpace(out), &raw); err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("invalid info dump: %w", err)}
	}

	info := parseInfo(raw)
	info.URL = url
	info.IsPlaylist = raw.Type == "playlist"
	return info, nil
}

func parseInfo(raw rawInfo) *domain.VideoInfo {
	info := &domain.VideoInfo{
		Title:     raw.Title,
		Duration:  int(raw.Duration),
		Thumbnail: raw.Thumbnail,
		Channel:   raw.Channel,
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	if info.Channel == "" {
		info.Channel = raw.Uploader
	}
	if info.Channel == "" {
		info.Channel = "Unknown"
	}
	if info.Thumbnail == "" && len(raw.Thumbnails) > 0 {
		info.Thumbnail = raw.Thumbnails[len(raw.Thumbnails)-1].URL
	}
	return info
}

// IsPlaylistURL reports whether a URL addresses a playlist rather than a
// single item.
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, "list=") || strings.Contains(url, "/playlist")
}

// Search returns up to the standard number of flat search results for a
// free-text query. Malformed result lines are dropped rather than failing
// the whole search.
func (f *Fetcher) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	target := fmt.Sprintf("ytsearch%d:%s", constants.SearchCount, query)
	out, err := f.dump(ctx, target, "--dump-json", "--no-playlist", "--flat-playlist")
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	return parseSearchResults(out, f.logger), nil
}

func parseSearchResults(out []byte, log *logger.Logger) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, constants.SearchCount)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), constants.FetchMaxOutput)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw rawInfo
		if err := json.Unmarshal(line, &raw); err != nil {
			if log != nil {
				log.Warn("dropping malformed search result", "error", err)
			}
			continue
		}
		info := parseInfo(raw)
		url := raw.WebpageURL
		if url == "" {
			url = raw.URL
		}
		if url == "" && raw.ID != "" {
			url = "https://www.youtube.com/watch?v=" + raw.ID
		}
		results = append(results, domain.SearchResult{
			Title:     info.Title,
			URL:       url,
			Thumbnail: info.Thumbnail,
			Duration:  FormatDuration(info.Duration),
			Channel:   info.Channel,
		})
	}
	return results
}

// FormatDuration renders seconds as H:MM:SS, or M:SS under an hour.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0:00"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
