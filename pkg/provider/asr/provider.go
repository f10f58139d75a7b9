// Package asr defines the speech recognition contract used by the
// transcription worker.
//
// A Recognizer turns one audio span into text. Backends are interchangeable:
// a whisper.cpp server over HTTP, whisper.cpp linked in-process, or a hosted
// transcription API. The worker calls Recognize once per utterance with the
// complete accumulated span and final=true; streaming backends may also be
// called with final=false on partial spans and keep their intermediate state
// in the per-utterance Cache.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// Recognizer converts speech to text.
type Recognizer interface {
	// Recognize transcribes mono 16kHz samples. An empty string with a nil
	// error means no speech was recognised. cache is scratch state scoped to
	// one utterance; it is reset by the caller after each final call and may
	// be nil.
	Recognize(ctx context.Context, samples []int16, final bool, cache *Cache) (string, error)
}

// Cache is opaque per-utterance scratch state owned by the caller and
// interpreted only by the backend. The zero value is ready to use.
type Cache struct {
	values map[string]any
}

// Get returns the value stored under key.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil || c.values == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Set stores v under key. Set on a nil Cache is a no-op.
func (c *Cache) Set(key string, v any) {
	if c == nil {
		return
	}
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Reset discards all values.
func (c *Cache) Reset() {
	if c != nil {
		c.values = nil
	}
}

// Len reports the number of stored values.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.values)
}
