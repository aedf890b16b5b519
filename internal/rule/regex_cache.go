package rule

import (
	"regexp"
	"sync"
)

// regexCache caches compiled regex patterns used by "text" conditions
// with is_regex=true, so that a condition re-evaluated across many
// Content items compiles its pattern once at load time rather than once
// per evaluation.
//
// Simple clear-on-overflow eviction is sufficient since the set of
// distinct patterns in a rule group is small and stable between config
// reloads.
type regexCache struct {
	mu      sync.RWMutex
	cache   map[string]*regexp.Regexp
	maxSize int
}

func newRegexCache(maxSize int) *regexCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &regexCache{cache: make(map[string]*regexp.Regexp), maxSize: maxSize}
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.cache[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.cache) >= c.maxSize {
		c.cache = make(map[string]*regexp.Regexp)
	}
	c.cache[pattern] = compiled
	c.mu.Unlock()

	return compiled, nil
}

var sharedRegexCache = newRegexCache(1000)
