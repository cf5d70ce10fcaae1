package storage

import "fmt"

// FileOpError describes a failed filesystem action on a tracked download.
type FileOpError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileOpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileOpError) Unwrap() error {
	return e.Err
}
