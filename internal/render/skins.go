package render

import (
	"fmt"
	"image"
	_ "image/gif"  // Support GIF format
	_ "image/jpeg" // Support JPEG format
	_ "image/png"  // Support PNG format
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/webp" // Support WebP format (most skin servers)
)

const (
	DefaultMaxSkins      = 200
	SkinTTL              = 30 * time.Minute
	MaxConcurrentFetches = 3
	FetchTimeout         = 5 * time.Second
)

// SkinCache stores decoded skin images with LRU eviction. A skin name is
// turned into a URL with the configured pattern, e.g.
// "https://skins.example/%s.png".
type SkinCache struct {
	mu      sync.RWMutex
	images  map[string]*cachedSkin
	order   []string // LRU order (oldest first)
	maxSize int
	pattern string

	// Pending fetches
	pending map[string]bool
	client  *http.Client
	sem     chan struct{} // Semaphore for concurrent fetches
	now     func() time.Time
}

type cachedSkin struct {
	img       image.Image
	fetchedAt time.Time
}

// NewSkinCache creates a skin cache. An empty pattern disables fetching.
func NewSkinCache(pattern string, maxSize int) *SkinCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSkins
	}
	return &SkinCache{
		images:  make(map[string]*cachedSkin),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		pattern: pattern,
		pending: make(map[string]bool),
		client:  &http.Client{Timeout: FetchTimeout},
		sem:     make(chan struct{}, MaxConcurrentFetches),
		now:     time.Now,
	}
}

// URL expands a skin name. Names that are already URLs pass through.
func (c *SkinCache) URL(skin string) string {
	if skin == "" {
		return ""
	}
	if strings.HasPrefix(skin, "http://") || strings.HasPrefix(skin, "https://") {
		return skin
	}
	if c.pattern == "" {
		return ""
	}
	return fmt.Sprintf(c.pattern, strings.TrimPrefix(skin, "%"))
}

// Get returns a cached skin or nil
func (c *SkinCache) Get(skin string) image.Image {
	url := c.URL(skin)
	if url == "" {
		return nil
	}

	c.mu.RLock()
	cached, ok := c.images[url]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if c.now().Sub(cached.fetchedAt) > SkinTTL {
		c.mu.Lock()
		c.remove(url)
		c.mu.Unlock()
		return nil
	}
	return cached.img
}

// GetOrFetch returns a cached skin or starts an async fetch.
// Never blocks - returns nil immediately if not cached.
func (c *SkinCache) GetOrFetch(skin string) image.Image {
	if img := c.Get(skin); img != nil {
		return img
	}
	url := c.URL(skin)
	if url == "" {
		return nil
	}

	c.mu.Lock()
	if !c.pending[url] {
		c.pending[url] = true
		go c.fetch(url)
	}
	c.mu.Unlock()
	return nil
}

// Put stores an already decoded skin
func (c *SkinCache) Put(skin string, img image.Image) {
	url := c.URL(skin)
	if url == "" || img == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.images[url]; !ok {
		for len(c.images) >= c.maxSize && len(c.order) > 0 {
			c.evict()
		}
		c.order = append(c.order, url)
	}
	c.images[url] = &cachedSkin{img: img, fetchedAt: c.now()}
}

func (c *SkinCache) fetch(url string) {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	defer func() {
		c.mu.Lock()
		delete(c.pending, url)
		c.mu.Unlock()
	}()

	resp, err := c.client.Get(url)
	if err != nil {
		log.Printf("⚠️ Skin fetch failed for %s: %v", url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ Skin fetch returned %d for %s", resp.StatusCode, url)
		return
	}

	img, format, err := image.Decode(resp.Body)
	if err != nil {
		log.Printf("⚠️ Skin decode failed for %s: %v (Content-Type: %s)",
			url, err, resp.Header.Get("Content-Type"))
		return
	}
	log.Printf("🖼️ Skin cached (%s) for %s", format, url)
	c.Put(url, img)
}

// evict removes the oldest cached skin; mu must be held
func (c *SkinCache) evict() {
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.images, oldest)
}

// remove drops one skin from the cache; mu must be held
func (c *SkinCache) remove(url string) {
	if _, ok := c.images[url]; !ok {
		return
	}
	delete(c.images, url)
	for i, u := range c.order {
		if u == url {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Size returns the current cache size
func (c *SkinCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
