package preprocess

import (
	"context"
	"sync"
	"sync/atomic"
)

var (
	defaultMu    sync.Mutex
	defaultReady atomic.Bool
	defaultProc  *Preprocessor
)

// Default returns the lazily constructed process-wide preprocessor. It uses
// default configuration with no alerter or session store; explicit
// construction via New is the preferred path.
func Default() *Preprocessor {
	if defaultReady.Load() {
		return defaultProc
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()

	if !defaultReady.Load() {
		// Default config cannot fail validation.
		defaultProc, _ = New(DefaultConfig(), nil, nil, nil, nil)
		defaultReady.Store(true)
	}
	return defaultProc
}

// Preprocess runs one prompt through the default preprocessor.
func Preprocess(ctx context.Context, text string, info ReqInfo) (*SecurePreprocessResult, error) {
	return Default().Process(ctx, text, info)
}
