// Package history delivers finished utterances to the live feed and to
// optional durable sinks.
package history

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voxscribe/internal/pipeline"
)

// Sink durably records utterances.
type Sink interface {
	Write(ctx context.Context, u pipeline.Utterance) error
	Close() error
}

// Publisher receives every utterance for live delivery.
type Publisher interface {
	PublishUtterance(ctx context.Context, u pipeline.Utterance)
}

// Pump is the single consumer of the utterance channel. Each utterance goes
// to the publisher first and then to every sink in order. Sink failures are
// logged and do not stop the pump.
type Pump struct {
	pub   Publisher
	sinks []Sink
}

// NewPump returns a Pump. pub may be nil.
func NewPump(pub Publisher, sinks ...Sink) *Pump {
	return &Pump{pub: pub, sinks: sinks}
}

// Run drains utterances until ctx is cancelled or the channel is closed.
// Utterances already queued when ctx is cancelled are delivered before Run
// returns.
func (p *Pump) Run(ctx context.Context, utterances <-chan pipeline.Utterance) error {
	for {
		select {
		case u, ok := <-utterances:
			if !ok {
				return nil
			}
			p.deliver(ctx, u)
		case <-ctx.Done():
			for {
				select {
				case u, ok := <-utterances:
					if !ok {
						return nil
					}
					p.deliver(context.WithoutCancel(ctx), u)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Pump) deliver(ctx context.Context, u pipeline.Utterance) {
	slog.Debug("delivering utterance", "id", u.ID, "speaker", u.Speaker, "case", u.CaseID, "sinks", len(p.sinks))
	if p.pub != nil {
		p.pub.PublishUtterance(ctx, u)
	}
	for _, s := range p.sinks {
		if err := s.Write(ctx, u); err != nil {
			slog.Warn("history sink write failed", "utterance", u.ID, "err", err)
		}
	}
}

// Close closes every sink.
func (p *Pump) Close() error {
	var errs []error
	for _, s := range p.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
