package sync

import "errors"

// Fatal run errors. They are reported through Result.Fatal and abort a run
// before any record is touched.
var (
	ErrAuth       = errors.New("not authenticated")
	ErrNetwork    = errors.New("no network connection")
	ErrInProgress = errors.New("sync already in progress")
)
