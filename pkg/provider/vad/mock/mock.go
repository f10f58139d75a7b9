// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify the Config sessions are created with. Use Session to
// script a sequence of speech/silence decisions and inspect the frames that
// were classified.
//
// Example:
//
//	sess := &mock.Session{Script: []bool{true, true, false}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil a default Session is returned.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// Script holds the decision for each successive frame. Once exhausted,
	// Default is returned.
	Script []bool

	// Default is the decision after Script runs out.
	Default bool

	// SpeechFunc, if set, classifies frames instead of Script.
	SpeechFunc func(frame []int16) bool

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// Frames records a copy of every classified frame.
	Frames [][]int16

	// ResetCallCount and CloseCallCount count calls.
	ResetCallCount int
	CloseCallCount int

	pos int
}

// ProcessFrame records the frame and returns the next scripted decision.
func (s *Session) ProcessFrame(frame []int16) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]int16, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.ProcessFrameErr != nil {
		return vad.Decision{}, s.ProcessFrameErr
	}

	speech := s.Default
	switch {
	case s.SpeechFunc != nil:
		speech = s.SpeechFunc(frame)
	case s.pos < len(s.Script):
		speech = s.Script[s.pos]
		s.pos++
	}
	prob := 0.0
	if speech {
		prob = 1
	}
	return vad.Decision{Speech: speech, Probability: prob}, nil
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close increments CloseCallCount.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

var _ vad.Session = (*Session)(nil)
