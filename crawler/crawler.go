// Package crawler implements the directory walk that populates the
// Catalog: batched inserts, hidden/excluded-prefix/future-mtime
// skipping, and cooperative cancellation checked at batch boundaries.
package crawler

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/armon/go-radix"
	"github.com/rs/zerolog"

	"github.com/business-tech-dev/errthang/catalog"
	"github.com/business-tech-dev/errthang/gen"
	"github.com/business-tech-dev/errthang/snapshot"
)

const (
	batchSize     = 1000
	checkInterval = 1000
)

// RebuildRequester is the subset of the SearchEngine the Crawler
// needs: a way to ask for a snapshot rebuild once a crawl finishes
// cleanly.
type RebuildRequester interface {
	RequestRebuild()
}

// Crawler walks root directories and feeds batches of metadata to a
// Catalog.
type Crawler struct {
	cat      catalog.Catalog
	source   *gen.Source
	log      zerolog.Logger
	rebuilds RebuildRequester
}

// New returns a Crawler writing into cat, checking cancellation
// against source, logging with log, and requesting rebuilds via
// rebuilds.
func New(cat catalog.Catalog, source *gen.Source, log zerolog.Logger, rebuilds RebuildRequester) *Crawler {
	return &Crawler{cat: cat, source: source, log: log, rebuilds: rebuilds}
}

// Stats summarizes a single Crawl call.
type Stats struct {
	Accepted  int
	Skipped   int
	Cancelled bool
}

// Crawl walks root recursively, skipping hidden entries (names
// starting with ".") when excludeHidden is set, any path under an
// excluded prefix, and any entry whose modification time is later than
// the crawl's start instant. The root directory itself is not
// recorded. Before walking, it clears every Catalog record whose path
// starts with root. Surviving entries are accumulated into batches of
// 1000 and bulk-inserted. Every 1000 iterations the generation token
// and ctx are checked; on either failing, the walk stops immediately
// without flushing the current partial batch. On clean completion a
// rebuild is requested.
func (c *Crawler) Crawl(ctx context.Context, root string, token gen.Token, excludePrefixes []string, excludeHidden bool) (Stats, error) {
	if err := c.cat.DeletePrefix(root); err != nil {
		return Stats{}, err
	}

	excluded := radix.New()
	for _, p := range excludePrefixes {
		excluded.Insert(p, true)
	}

	start := time.Now()
	stats := Stats{}
	batch := make([]snapshot.Item, 0, batchSize)
	iterations := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.cat.BulkInsert(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("crawl: walk error, skipping entry")
			return nil
		}

		iterations++
		if iterations%checkInterval == 0 {
			if ctx.Err() != nil || !c.source.Valid(token) {
				stats.Cancelled = true
				return fs.SkipAll
			}
		}

		if path == root {
			return nil
		}

		name := d.Name()
		if excludeHidden && strings.HasPrefix(name, ".") && path != root {
			stats.Skipped++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if _, _, found := excluded.LongestPrefix(path); found {
			stats.Skipped++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			stats.Skipped++
			return nil
		}
		if info.ModTime().After(start) {
			stats.Skipped++
			return nil
		}

		item := snapshot.Item{
			Path:       path,
			Name:       name,
			IsDir:      d.IsDir(),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			HasModTime: !info.ModTime().IsZero(),
		}
		batch = append(batch, item)
		stats.Accepted++

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		return stats, walkErr
	}

	if stats.Cancelled {
		c.log.Info().Str("root", root).Int("accepted", stats.Accepted).Msg("crawl: cancelled, dropping partial batch")
		return stats, nil
	}

	if err := flush(); err != nil {
		return stats, err
	}

	c.log.Info().Str("root", root).Int("accepted", stats.Accepted).Int("skipped", stats.Skipped).Msg("crawl: complete")
	if c.rebuilds != nil {
		c.rebuilds.RequestRebuild()
	}
	return stats, nil
}
