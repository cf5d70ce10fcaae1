package history

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	coverArtTimeout = 10 * time.Second
	coverArtMaxSize = 5 * 1024 * 1024
)

// fetchCoverArt downloads a thumbnail for tag embedding. Any failure just
// yields no art.
func fetchCoverArt(urlStr string) ([]byte, error) {
	if urlStr == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %s", parsedURL.Scheme)
	}

	client := &http.Client{Timeout: coverArtTimeout}
	resp, err := client.Get(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, coverArtMaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > coverArtMaxSize {
		return nil, fmt.Errorf("image exceeds %d bytes", coverArtMaxSize)
	}
	return data, nil
}
