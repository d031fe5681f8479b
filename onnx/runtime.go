package onnx

import (
	"fmt"
	"os"

	"github.com/amikos-tech/pure-onnx/ort"
)

// InitRuntime makes the ONNX Runtime environment available. An explicit
// shared library path from ONNXRUNTIME_LIB_PATH wins; otherwise the runtime
// is bootstrapped into the user cache on first use. The returned path is the
// shared library actually loaded.
func InitRuntime() (string, error) {
	libPath := os.Getenv("ONNXRUNTIME_LIB_PATH")
	if libPath == "" {
		bootstrappedPath, err := ort.EnsureOnnxRuntimeSharedLibrary()
		if err != nil {
			return "", fmt.Errorf("failed to bootstrap ONNX Runtime shared library: %w", err)
		}
		libPath = bootstrappedPath
	}

	if err := ort.SetSharedLibraryPath(libPath); err != nil {
		return "", fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return "", fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return libPath, nil
}

// ShutdownRuntime destroys the ONNX Runtime environment.
func ShutdownRuntime() error {
	return ort.DestroyEnvironment()
}
