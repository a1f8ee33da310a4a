package manager

import (
	"regexp"
	"sync"
)

// regexCache memoizes compiled list_regex patterns. Patterns come from
// backend definition files and repeat on every list call, so compilation
// happens once per pattern for the process lifetime.
var regexCache = struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}{patterns: make(map[string]*regexp.Regexp)}

// CompileCached compiles pattern, serving repeat requests from the cache.
func CompileCached(pattern string) (*regexp.Regexp, error) {
	regexCache.mu.Lock()
	defer regexCache.mu.Unlock()
	if re, ok := regexCache.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &InvalidRegexError{Pattern: pattern, Cause: err}
	}
	regexCache.patterns[pattern] = re
	return re, nil
}
