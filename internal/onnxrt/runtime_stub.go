//go:build !onnx

package onnxrt

// Init always fails in builds without ONNX support.
func Init() error { return ErrUnavailable }

// Available reports whether this binary was built with ONNX support.
func Available() bool { return false }
