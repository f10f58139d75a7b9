// Package pipeline holds the error taxonomy shared by the dictation workers.
//
// Hot-path errors are wrapped around one of these sentinels, logged and
// counted inside the worker that produced them. Only [ErrDevice] (the capture
// worker returns and is restarted) and [ErrPersistence] on gallery load are
// observable outside their worker.
package pipeline

import "errors"

var (
	// ErrDevice reports a capture device that failed to open, start or stop.
	ErrDevice = errors.New("pipeline: device error")

	// ErrRecognition reports an ASR failure. The segment is dropped.
	ErrRecognition = errors.New("pipeline: recognition error")

	// ErrEmbedding reports a failed speaker embedding extraction.
	ErrEmbedding = errors.New("pipeline: embedding error")

	// ErrChannelSaturated reports a bounded channel that was full when a
	// producer tried to hand off a value. The value is dropped.
	ErrChannelSaturated = errors.New("pipeline: channel saturated")

	// ErrPersistence reports a gallery load or save failure.
	ErrPersistence = errors.New("pipeline: persistence error")

	// ErrWorkerCrash reports a worker goroutine that panicked.
	ErrWorkerCrash = errors.New("pipeline: worker crashed")
)
