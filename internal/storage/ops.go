package storage

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/newsave/newsave/internal/constants"
)

// Sanitize makes a string safe for use as a filename: invalid characters are
// replaced with dashes, runs of whitespace collapse to a single space, and the
// result is trimmed and capped in length.
func Sanitize(s string) string {
	if s == "" {
		return "download"
	}

	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.InvalidPathChars, r) {
			return '-'
		}
		return r
	}, s)

	mapped = strings.Join(strings.Fields(mapped), " ")
	mapped = strings.TrimRight(mapped, ". ")
	if mapped == "" {
		return "download"
	}

	if len(mapped) > constants.MaxFilenameLength {
		// Cut on a rune boundary, then trim again in case the cut exposed
		// a trailing space or dot.
		cut := constants.MaxFilenameLength
		for cut > 0 && !utf8.RuneStart(mapped[cut]) {
			cut--
		}
		mapped = strings.TrimRight(mapped[:cut], ". ")
		if mapped == "" {
			return "download"
		}
	}
	return mapped
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func RemoveFile(path string) error {
	return os.Remove(path)
}

func WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, constants.FilePermissions)
}

// OpenPath opens a file or directory with the platform's default handler.
func OpenPath(path string) error {
	return openCommand(path).Start()
}

// RevealPath shows the file's containing directory. On platforms without a
// select-in-manager verb the parent directory is opened instead.
func RevealPath(path string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", "-R", path).Start()
	case "windows":
		return exec.Command("explorer", "/select,", path).Start()
	default:
		return openCommand(filepath.Dir(path)).Start()
	}
}

func openCommand(path string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path)
	case "windows":
		return exec.Command("explorer", path)
	default:
		return exec.Command("xdg-open", path)
	}
}
