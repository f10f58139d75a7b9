// Package onnxrt locates and initialises the ONNX Runtime shared library used
// by the neural VAD and speaker embedding backends.
//
// The library is looked up through a platform path table: an explicit
// override first, then lib/<goos>-<goarch>/<file> next to the executable (or
// one directory up for bin/ layouts), then the same layout under the working
// directory when dev mode is enabled.
package onnxrt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvLibPath overrides the library lookup with an explicit file path.
	EnvLibPath = "VOXSCRIBE_ORT_LIB_PATH"

	// EnvDevMode enables working-directory lookup when set to "1".
	EnvDevMode = "VOXSCRIBE_DEV_MODE"
)

// ErrLibraryNotFound is returned when no candidate path holds the library.
var ErrLibraryNotFound = errors.New("onnxrt: shared library not found")

// ErrUnavailable is returned by Init in binaries built without the onnx tag.
var ErrUnavailable = errors.New("onnxrt: built without onnx support (rebuild with -tags onnx)")

// libFiles maps GOOS to the ONNX Runtime library file name.
var libFiles = map[string]string{
	"darwin":  "libonnxruntime.dylib",
	"windows": "onnxruntime.dll",
	"linux":   "libonnxruntime.so",
}

// Platform identifies an operating system and architecture pair.
type Platform struct {
	GOOS   string
	GOARCH string
}

// LibFile returns the library file name for p. Unknown systems use the
// linux name.
func (p Platform) LibFile() string {
	if f, ok := libFiles[p.GOOS]; ok {
		return f
	}
	return libFiles["linux"]
}

// Dir returns the platform directory name, e.g. "linux-amd64".
func (p Platform) Dir() string { return p.GOOS + "-" + p.GOARCH }

// Resolver resolves the library path. The zero value is not usable; build one
// with [NewResolver].
type Resolver struct {
	platform Platform
	getenv   func(string) string
	exeDir   func() (string, error)
	workDir  func() (string, error)
	stat     func(string) (os.FileInfo, error)
}

// NewResolver returns a Resolver for p backed by the real environment.
func NewResolver(p Platform) *Resolver {
	return &Resolver{
		platform: p,
		getenv:   os.Getenv,
		exeDir: func() (string, error) {
			exe, err := os.Executable()
			if err != nil {
				return "", err
			}
			return filepath.Dir(exe), nil
		},
		workDir: os.Getwd,
		stat:    os.Stat,
	}
}

// Candidates lists every path the resolver would probe, in order, excluding
// the environment override.
func (r *Resolver) Candidates() []string {
	file := r.platform.LibFile()
	rels := []string{
		filepath.Join("lib", r.platform.Dir(), file),
		filepath.Join("..", "lib", r.platform.Dir(), file),
	}

	var out []string
	if dir, err := r.exeDir(); err == nil {
		for _, rel := range rels {
			out = append(out, filepath.Join(dir, rel))
		}
	}
	if r.getenv(EnvDevMode) == "1" {
		if dir, err := r.workDir(); err == nil {
			for _, rel := range rels {
				out = append(out, filepath.Join(dir, rel))
			}
		}
	}
	return out
}

// Resolve returns the first existing library path.
func (r *Resolver) Resolve() (string, error) {
	if p := r.getenv(EnvLibPath); p != "" {
		info, err := r.stat(p)
		if err != nil {
			return "", fmt.Errorf("onnxrt: %s=%q: %w", EnvLibPath, p, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("onnxrt: %s=%q is a directory", EnvLibPath, p)
		}
		return p, nil
	}

	for _, path := range r.Candidates() {
		if info, err := r.stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: searched lib/%s/%s (set %s to override)",
		ErrLibraryNotFound, r.platform.Dir(), r.platform.LibFile(), EnvLibPath)
}
