package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/voxscribe/pkg/provider/asr"
)

// Recognizer is an [asr.Recognizer] that routes each call through a
// [Group] of backends. With a single backend it is a breaker-guarded
// recognizer: while the breaker is open calls fail fast with an error
// wrapping [ErrCircuitOpen] and the backend is not contacted.
type Recognizer struct {
	group *Group[asr.Recognizer]
}

var _ asr.Recognizer = (*Recognizer)(nil)

// NewRecognizer guards primary with a breaker built from cfg.
func NewRecognizer(primaryName string, primary asr.Recognizer, cfg CircuitBreakerConfig) *Recognizer {
	return &Recognizer{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback appends a backend tried after the earlier ones fail.
func (r *Recognizer) AddFallback(name string, rec asr.Recognizer) {
	r.group.Add(name, rec)
}

// States reports each backend's breaker state.
func (r *Recognizer) States() map[string]State { return r.group.States() }

// Recognize transcribes samples with the first backend that succeeds.
func (r *Recognizer) Recognize(ctx context.Context, samples []int16, final bool, cache *asr.Cache) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Do(r.group, func(_ string, rec asr.Recognizer) (string, error) {
		return rec.Recognize(ctx, samples, final, cache)
	})
}

// Close closes every backend that implements io.Closer.
func (r *Recognizer) Close() error {
	var errs []error
	for _, m := range r.group.members {
		if c, ok := any(m.value).(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
