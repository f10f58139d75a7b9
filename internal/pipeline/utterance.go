package pipeline

import "time"

// UnknownSpeaker labels utterances whose speaker could not be identified.
const UnknownSpeaker = "unknown"

// Utterance is one recognised, speaker-attributed span of dictation.
type Utterance struct {
	// ID uniquely identifies the utterance across restarts.
	ID string `json:"id"`

	// Speaker is the gallery id of the speaker, or [UnknownSpeaker].
	Speaker string `json:"speaker"`

	// Text is the recognised text.
	Text string `json:"text"`

	// Timestamp is when the closing final segment was emitted.
	Timestamp time.Time `json:"timestamp"`

	// CaseID is the case active when the utterance was recognised.
	CaseID string `json:"case_id,omitempty"`

	// Duration is the audio length the utterance was recognised from.
	Duration time.Duration `json:"duration_ns"`
}
