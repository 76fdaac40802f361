// Package errs defines the sentinel errors the core raises, so
// callers can distinguish error kinds with errors.Is rather than
// string matching.
package errs

import "errors"

var (
	// ErrSnapshotCorrupt is returned when a snapshot file fails its
	// magic/version/size checks. Recovery: treat as absent and rebuild.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt or incompatible")

	// ErrSnapshotAbsent is returned when the snapshot file does not
	// exist. Recovery: enter the rebuild path.
	ErrSnapshotAbsent = errors.New("snapshot absent")

	// ErrWriteFailed wraps an IndexWriter I/O error. Recovery: log and
	// retry on the next debounce tick; queries continue against the
	// previous snapshot.
	ErrWriteFailed = errors.New("index write failed")

	// ErrCancelled names the generation-mismatch error kind. Nothing in
	// this module returns it: Crawler.Crawl reports cancellation through
	// Stats.Cancelled, and the engine's rebuild stops without an error.
	ErrCancelled = errors.New("operation cancelled")
)
