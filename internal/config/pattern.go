package config

import (
	"regexp"
	"sync"
)

type regexCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func newPatternCache() *regexCache {
	return &regexCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *regexCache) get(expr string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.compiled[expr]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.compiled[expr] = re
	c.mu.Unlock()
	return re, nil
}

// Pattern compiles a rule or cache-group expression using the shared cache.
func Pattern(expr string) (*regexp.Regexp, error) {
	return compilePattern(expr)
}
