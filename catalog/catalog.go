// Package catalog defines the external Catalog collaborator the core
// consumes: the durable, authoritative store of file metadata that
// the Crawler populates and the IndexWriter drains from. The core is
// agnostic to storage technology; Catalog is the seam.
package catalog

import "github.com/business-tech-dev/errthang/snapshot"

// Catalog is the durable metadata store the Crawler writes to and the
// SearchEngine reads from when building a snapshot.
type Catalog interface {
	// BulkInsert inserts a batch of items in one transaction.
	BulkInsert(items []snapshot.Item) error

	// RangeAll returns every item sorted by name, for streaming into
	// IndexWriter.
	RangeAll() ([]snapshot.Item, error)

	// Upsert inserts or replaces a single item by path.
	Upsert(item snapshot.Item) error

	// Delete removes the record for path, if any.
	Delete(path string) error

	// DeletePrefix removes every record whose path starts with prefix.
	DeletePrefix(prefix string) error

	// Close releases any underlying resources.
	Close() error
}
