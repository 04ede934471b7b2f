package storage

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
	"github.com/ajitpratap0/storage-mixpanel/pkg/logger"
)

// Listing is the result of enumerating a pattern.
type Listing struct {
	Pattern    string
	Bucket     string
	Objects    []Object
	TotalBytes int64
}

// Enumerator resolves path patterns into object listings.
type Enumerator struct {
	store  Store
	bus    *events.Bus
	logger *zap.Logger
}

// NewEnumerator creates an enumerator over store. bus may be nil.
func NewEnumerator(store Store, bus *events.Bus) *Enumerator {
	return &Enumerator{
		store:  store,
		bus:    bus,
		logger: logger.With(zap.String("component", "enumerator")),
	}
}

// List returns the non-empty objects matching pattern and their total size.
// Zero matches is a NoMatchingObjects error carrying the pattern.
func (e *Enumerator) List(ctx context.Context, pattern string) (*Listing, error) {
	loc, err := config.ParsePath(pattern)
	if err != nil {
		return nil, err
	}
	glob, err := CompileGlob(loc.Glob)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidConfig, "invalid path glob").
			WithDetail("pattern", pattern)
	}

	e.bus.Emit(events.MetaStart, events.Event{Object: pattern})
	objects, err := e.store.List(ctx, loc.Bucket, glob.Prefix())
	e.bus.Emit(events.MetaEnd, events.Event{Object: pattern, Count: len(objects), Err: err})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to list objects").
			WithDetail("pattern", pattern).
			WithDetail("bucket", loc.Bucket)
	}

	listing := &Listing{Pattern: pattern, Bucket: loc.Bucket}
	skipped := 0
	for _, obj := range objects {
		if obj.Size <= 0 || strings.HasSuffix(obj.Name, "/") || !glob.Match(obj.Name) {
			skipped++
			continue
		}
		if obj.Bucket == "" {
			obj.Bucket = loc.Bucket
		}
		listing.Objects = append(listing.Objects, obj)
		listing.TotalBytes += obj.Size
	}
	sort.Slice(listing.Objects, func(i, j int) bool {
		return listing.Objects[i].Name < listing.Objects[j].Name
	})

	if len(listing.Objects) == 0 {
		hint := loc
		hint.Glob = strings.TrimSuffix(loc.Glob, "*") + "*"
		return nil, errors.Newf(errors.ErrorTypeNoMatchingObjects, "no objects matched %s", pattern).
			WithDetail("pattern", pattern).
			WithDetail("hint", "add a trailing wildcard to match by prefix, e.g. "+hint.String())
	}

	e.logger.Debug("objects enumerated",
		zap.String("pattern", pattern),
		zap.Stringer("glob", glob),
		zap.Int("matched", len(listing.Objects)),
		zap.Int("skipped", skipped),
		zap.Int64("bytes", listing.TotalBytes))
	return listing, nil
}
