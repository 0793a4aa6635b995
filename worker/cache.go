package worker

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"github.com/nci/gomemcache/memcache"
	"go.uber.org/zap"

	"github.com/nci/pixels/utils"
)

// Cache is the subset of the memcache client used for windows.
type Cache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// CachedFetcher answers repeated window requests from memcache and falls
// back to Backend on a miss. Failed reads are never cached.
type CachedFetcher struct {
	Backend utils.Fetcher
	Cache   Cache
	log     *zap.Logger
}

// NewCachedFetcher wraps backend with the memcache server at uri.
func NewCachedFetcher(backend utils.Fetcher, uri string, log *zap.Logger) *CachedFetcher {
	return NewCachedFetcherWithCache(backend, memcache.New(uri), log)
}

func NewCachedFetcherWithCache(backend utils.Fetcher, cache Cache, log *zap.Logger) *CachedFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedFetcher{Backend: backend, Cache: cache, log: log.Named("cache")}
}

// cacheKey hashes the gob encoding of the request, which is stable for
// equal requests.
func cacheKey(req *utils.WindowRequest) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return "", err
	}
	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (c *CachedFetcher) FetchBand(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
	key, err := cacheKey(req)
	if err != nil {
		return nil, fmt.Errorf("cache key: %v", err)
	}

	if item, err := c.Cache.Get(key); err == nil {
		win := new(utils.Window)
		if err := gob.NewDecoder(bytes.NewReader(item.Value)).Decode(win); err == nil {
			return win, nil
		}
		c.log.Warn("discarding corrupted cache entry", zap.String("key", key))
	}

	win, err := c.Backend.FetchBand(ctx, req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(win); err != nil {
		return win, nil
	}
	// don't care about errors; memcache may not necessarily retain this anyway
	if err := c.Cache.Set(&memcache.Item{Key: key, Value: buf.Bytes()}); err != nil {
		c.log.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return win, nil
}
