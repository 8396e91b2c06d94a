package batcher

import (
	"context"
	"errors"
	"sync"
)

// ErrNoDefault is returned by the package-level helpers before SetDefault is called
var ErrNoDefault = errors.New("batcher: no default engine configured")

var (
	defaultEngine *Engine
	defaultMu     sync.RWMutex
)

// SetDefault installs the shared engine used by the package-level helpers
// and returns the previous one
func SetDefault(e *Engine) *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultEngine
	defaultEngine = e
	return prev
}

// Default returns the shared engine, or nil if none is installed
func Default() *Engine {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultEngine
}

// Submit calls Submit on the shared engine
func Submit(ctx context.Context, targetKey string, deltaCents int64, priority Priority, source string) (*Result, error) {
	e := Default()
	if e == nil {
		return nil, ErrNoDefault
	}
	return e.Submit(ctx, targetKey, deltaCents, priority, source)
}
