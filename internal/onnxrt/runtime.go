//go:build onnx

package onnxrt

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the ONNX Runtime library for the running platform and
// initialises the global environment exactly once. Later calls return the
// first call's result.
func Init() error {
	initOnce.Do(func() {
		path, err := NewResolver(Platform{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}).Resolve()
		if err != nil {
			initErr = err
			return
		}
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("onnxrt: initialize environment: %w", err)
			return
		}
		slog.Info("onnx runtime initialised", "lib", path)
	})
	return initErr
}

// Available reports whether this binary was built with ONNX support.
func Available() bool { return true }
