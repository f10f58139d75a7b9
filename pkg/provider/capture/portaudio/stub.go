//go:build !portaudio

// Package portaudio captures from the system default input device through
// PortAudio. This build carries no PortAudio support; rebuild with
// -tags portaudio.
package portaudio

import (
	"errors"

	"github.com/MrWong99/voxscribe/pkg/provider/capture"
)

// ErrUnavailable is returned by New in builds without the portaudio tag.
var ErrUnavailable = errors.New("portaudio: built without portaudio support (rebuild with -tags portaudio)")

// Source is unavailable in this build.
type Source struct{}

// New always returns [ErrUnavailable].
func New() (*Source, error) { return nil, ErrUnavailable }

// Close is a no-op.
func (s *Source) Close() error { return nil }

// Open always fails.
func (s *Source) Open(capture.Config) (capture.Device, error) { return nil, ErrUnavailable }
