// Package mock provides a test double for asr.Recognizer.
//
// Results are returned in order from Texts; after they run out Text is
// returned. Every call is recorded with an owned copy of its samples.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/asr"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	Samples  []int16
	Final    bool
	CacheLen int
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Texts are returned one per call in order.
	Texts []string

	// Text is returned once Texts is exhausted.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// Panic, if non-empty, makes Recognize panic with this value.
	Panic string

	// Calls records every call in order.
	Calls []RecognizeCall

	// CacheKey, if set, is written into the cache on every call so tests can
	// observe that callers reset it between utterances.
	CacheKey string
}

// Recognize records the call and returns the next scripted result.
func (r *Recognizer) Recognize(_ context.Context, samples []int16, final bool, cache *asr.Cache) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make([]int16, len(samples))
	copy(cp, samples)
	r.Calls = append(r.Calls, RecognizeCall{Samples: cp, Final: final, CacheLen: cache.Len()})
	if r.CacheKey != "" {
		cache.Set(r.CacheKey, len(r.Calls))
	}
	if r.Panic != "" {
		panic(r.Panic)
	}
	if r.Err != nil {
		return "", r.Err
	}
	if len(r.Texts) > 0 {
		t := r.Texts[0]
		r.Texts = r.Texts[1:]
		return t, nil
	}
	return r.Text, nil
}

// CallCount returns the number of recorded calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// RecordedCalls returns a copy of the recorded calls.
func (r *Recognizer) RecordedCalls() []RecognizeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecognizeCall, len(r.Calls))
	copy(out, r.Calls)
	return out
}

var _ asr.Recognizer = (*Recognizer)(nil)
