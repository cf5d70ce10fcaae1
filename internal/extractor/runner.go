package extractor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/newsave/newsave/internal/constants"
	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/logger"
)

// Runner invokes the external yt-dlp binary for a single download.
type Runner struct {
	binary string
	logger *logger.Logger
}

func NewRunner(binary string, log *logger.Logger) *Runner {
	if binary == "" {
		binary = constants.DefaultYtDlpBinary
	}
	return &Runner{
		binary: binary,
		logger: log.WithComponent("runner"),
	}
}

// RunRequest describes one download invocation. OutputPath is the full target
// file path for single items and the target directory for playlists.
type RunRequest struct {
	URL        string
	Kind       domain.MediaKind
	Format     string
	Quality    string
	IsPlaylist bool
	OutputPath string
}

// BuildArgs assembles the yt-dlp argument list for a request.
func BuildArgs(req RunRequest) []string {
	var args []string

	switch req.Kind {
	case domain.KindAudio:
		quality := req.Quality
		if quality == constants.QualityBest || quality == "" {
			quality = "0"
		}
		args = append(args, "-x", "--audio-format", req.Format, "--audio-quality", quality)
	default:
		if req.Quality == constants.QualityBest || req.Quality == "" {
			args = append(args, "-f", "bestvideo+bestaudio/best")
		} else {
			height := strings.TrimSuffix(req.Quality, "p")
			args = append(args,
				"-f", fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", height, height))
		}
		args = append(args, "--merge-output-format", req.Format)
	}

	output := req.OutputPath
	if req.IsPlaylist {
		output = filepath.Join(req.OutputPath, constants.PlaylistOutputTemplate)
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}

	args = append(args, "--newline", "-o", output, req.URL)
	return args
}

// Run executes a download and blocks until the process exits. onProgress is
// called with a percentage for each progress line; it is never called for
// playlists, whose aggregate percentage is not meaningful.
//
// Cancelling ctx sends SIGTERM to the process and Run returns ErrCancelled.
func (r *Runner) Run(ctx context.Context, req RunRequest, onProgress func(float64)) error {
	args := BuildArgs(req)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	r.logger.Debug("invoking yt-dlp", "binary", r.binary, "args", args)

	if err := cmd.Start(); err != nil {
		return &SpawnError{Binary: r.binary, Err: err}
	}

	// Progress shows up on either stream depending on the yt-dlp build, so
	// both are scanned for it.
	emitProgress := func(line string) {
		if pct, ok := ParseProgress(line); ok && onProgress != nil && !req.IsPlaylist {
			onProgress(pct)
		}
	}

	var stderrTail strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			r.logger.Debug("yt-dlp stderr", "line", line)
			emitProgress(line)
			// Keep the most recent error lines for reporting.
			if stderrTail.Len() > 4096 {
				stderrTail.Reset()
			}
			stderrTail.WriteString(line)
			stderrTail.WriteString("\n")
		}
	}()

	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			emitProgress(scanner.Text())
		}
	}()

	<-stdoutDone
	<-stderrDone
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ErrCancelled
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExtractionError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderrTail.String()),
			}
		}
		return waitErr
	}
	return nil
}
