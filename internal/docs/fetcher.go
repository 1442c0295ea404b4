// Package docs loads the bytes behind a viewer resource for the document
// pane.
package docs

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheSize = 32

// Source downloads a resource. *api.Client satisfies it.
type Source interface {
	Fetch(ctx context.Context, resource string) ([]byte, error)
}

// Fetcher caches documents by resource and collapses concurrent loads of
// the same resource into one request.
type Fetcher struct {
	src   Source
	cache *lru.Cache[string, []byte]
	group singleflight.Group
	log   *zap.Logger
}

func NewFetcher(src Source, size int, log *zap.Logger) (*Fetcher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("document cache: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{src: src, cache: cache, log: log.Named("docs")}, nil
}

func (f *Fetcher) Fetch(ctx context.Context, resource string) ([]byte, error) {
	if data, ok := f.cache.Get(resource); ok {
		return data, nil
	}
	v, err, shared := f.group.Do(resource, func() (any, error) {
		data, err := f.src.Fetch(ctx, resource)
		if err != nil {
			return nil, err
		}
		f.cache.Add(resource, data)
		return data, nil
	})
	if err != nil {
		f.log.Warn("document fetch failed", zap.String("resource", resource), zap.Error(err))
		return nil, err
	}
	data := v.([]byte)
	f.log.Debug("document loaded", zap.String("resource", resource), zap.Int("bytes", len(data)), zap.Bool("shared", shared))
	return data, nil
}

// Cached reports whether resource is in the cache without loading it.
func (f *Fetcher) Cached(resource string) bool {
	return f.cache.Contains(resource)
}

// Purge drops every cached document. Sessions call it on reset because the
// server forgets its files.
func (f *Fetcher) Purge() {
	f.cache.Purge()
}
