package common

import (
	"fmt"
	"regexp"
	"sync"
)

var (
	patternCache   = make(map[string]*regexp.Regexp)
	patternCacheMu sync.RWMutex
)

// CompilePattern compiles a regex pattern, caching successful compilations.
// A pattern that fails to compile returns an error and is never cached, so a
// caller can treat it as "no match" without aborting its whole scan.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	patternCacheMu.RLock()
	re, ok := patternCache[pattern]
	patternCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	patternCacheMu.Lock()
	patternCache[pattern] = re
	patternCacheMu.Unlock()

	return re, nil
}
