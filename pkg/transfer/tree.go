// Package transfer moves job data between storage providers.
//
// CopyTree copies the files a selector picks out of one prefix into another;
// Executor runs such copies on a bounded pool so event handlers never block
// on I/O.
package transfer

import (
	"context"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3leaps/jobsync/pkg/match"
	"github.com/3leaps/jobsync/pkg/provider"
)

// TreeOptions configures CopyTree.
type TreeOptions struct {
	// Concurrency bounds parallel object copies within one tree. Zero uses 4.
	Concurrency int

	// RetryBufferMaxMemoryBytes: see DefaultRetryBufferMaxMemoryBytes.
	RetryBufferMaxMemoryBytes int64
}

// Summary reports what a CopyTree call did.
type Summary struct {
	ObjectsListed      int64
	ObjectsMatched     int64
	ObjectsTransferred int64
	BytesTransferred   int64
	Duration           time.Duration
}

// CopyTree copies every object under srcPrefix whose path relative to
// srcPrefix matches m into dstPrefix, preserving relative paths.
//
// The first failing object cancels the remaining copies and its error is
// returned; objects already copied are left in place.
func CopyTree(ctx context.Context, src provider.Provider, srcPrefix string, dst provider.Provider, dstPrefix string, m *match.Matcher, opts TreeOptions) (*Summary, error) {
	start := time.Now()
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	srcPrefix = dirPrefix(srcPrefix)
	dstPrefix = dirPrefix(dstPrefix)

	var (
		listed      atomic.Int64
		matched     atomic.Int64
		transferred atomic.Int64
		bytes       atomic.Int64
	)
	summary := func() *Summary {
		return &Summary{
			ObjectsListed:      listed.Load(),
			ObjectsMatched:     matched.Load(),
			ObjectsTransferred: transferred.Load(),
			BytesTransferred:   bytes.Load(),
			Duration:           time.Since(start),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	seen := make(map[string]struct{})
	for _, pfx := range m.Prefixes() {
		objs, err := provider.ListAll(gctx, src, srcPrefix+pfx)
		if err != nil {
			// A failed copy cancels gctx; report that failure, not the listing's.
			if werr := g.Wait(); werr != nil {
				err = werr
			}
			return summary(), err
		}
		for _, obj := range objs {
			if _, dup := seen[obj.Key]; dup {
				continue
			}
			seen[obj.Key] = struct{}{}
			listed.Add(1)

			rel := strings.TrimPrefix(obj.Key, srcPrefix)
			if !m.Match(rel) {
				continue
			}
			matched.Add(1)

			obj := obj
			g.Go(func() error {
				n, err := CopyObject(gctx, src, dst, obj.Key, dstPrefix+rel, obj.Size, opts.RetryBufferMaxMemoryBytes)
				if err != nil {
					return err
				}
				transferred.Add(1)
				bytes.Add(n)
				return nil
			})
		}
	}

	err := g.Wait()
	return summary(), err
}

// dirPrefix normalizes a key prefix to "" or "a/b/".
func dirPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p) + "/"
}
