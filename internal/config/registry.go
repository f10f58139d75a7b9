package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxscribe/internal/speaker"
	"github.com/MrWong99/voxscribe/pkg/provider/asr"
	"github.com/MrWong99/voxscribe/pkg/provider/capture"
	"github.com/MrWong99/voxscribe/pkg/provider/enhance"
	"github.com/MrWong99/voxscribe/pkg/provider/vad"
	"github.com/MrWong99/voxscribe/pkg/provider/voiceprint"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// GalleryStoreFactory builds a gallery store. dir is the storage directory.
type GalleryStoreFactory func(ctx context.Context, entry ProviderEntry, dir string) (speaker.Store, error)

// EnhanceFactory builds one enhancement engine per capture session.
type EnhanceFactory func(entry ProviderEntry, cfg enhance.Config) (enhance.Engine, error)

// factories is one kind's name to constructor table.
type factories[F any] struct {
	kind string
	m    map[string]F
}

func newFactories[F any](kind string) factories[F] {
	return factories[F]{kind: kind, m: make(map[string]F)}
}

func (f factories[F]) lookup(name string) (F, error) {
	fn, ok := f.m[name]
	if !ok {
		return fn, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

// Registry maps backend names to constructors for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	capture    factories[func(ProviderEntry) (capture.Source, error)]
	enhance    factories[EnhanceFactory]
	vad        factories[func(ProviderEntry) (vad.Engine, error)]
	asr        factories[func(ProviderEntry) (asr.Recognizer, error)]
	voiceprint factories[func(ProviderEntry) (voiceprint.Model, error)]
	gallery    factories[GalleryStoreFactory]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:    newFactories[func(ProviderEntry) (capture.Source, error)]("capture"),
		enhance:    newFactories[EnhanceFactory]("enhance"),
		vad:        newFactories[func(ProviderEntry) (vad.Engine, error)]("vad"),
		asr:        newFactories[func(ProviderEntry) (asr.Recognizer, error)]("asr"),
		voiceprint: newFactories[func(ProviderEntry) (voiceprint.Model, error)]("voiceprint"),
		gallery:    newFactories[GalleryStoreFactory]("gallery"),
	}
}

// RegisterCapture registers a capture source factory under name.
// Registering the same name again overwrites the previous factory.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (capture.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture.m[name] = factory
}

// RegisterEnhance registers an enhancement engine factory under name.
func (r *Registry) RegisterEnhance(name string, factory EnhanceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enhance.m[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// RegisterASR registers a recognizer factory under name.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr.m[name] = factory
}

// RegisterVoiceprint registers a speaker embedding model factory under name.
func (r *Registry) RegisterVoiceprint(name string, factory func(ProviderEntry) (voiceprint.Model, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceprint.m[name] = factory
}

// RegisterGalleryStore registers a gallery store factory under name.
func (r *Registry) RegisterGalleryStore(name string, factory GalleryStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gallery.m[name] = factory
}

// CreateCapture instantiates the capture source registered under entry.Name.
// Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Source, error) {
	r.mu.RLock()
	factory, err := r.capture.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateEnhance instantiates an enhancement engine.
func (r *Registry) CreateEnhance(entry ProviderEntry, cfg enhance.Config) (enhance.Engine, error) {
	r.mu.RLock()
	factory, err := r.enhance.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry, cfg)
}

// CreateVAD instantiates a VAD engine.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, err := r.vad.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateASR instantiates a recognizer.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, err := r.asr.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateVoiceprint instantiates a speaker embedding model.
func (r *Registry) CreateVoiceprint(entry ProviderEntry) (voiceprint.Model, error) {
	r.mu.RLock()
	factory, err := r.voiceprint.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateGalleryStore opens the gallery store registered under entry.Name.
func (r *Registry) CreateGalleryStore(ctx context.Context, entry ProviderEntry, dir string) (speaker.Store, error) {
	r.mu.RLock()
	factory, err := r.gallery.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(ctx, entry, dir)
}
