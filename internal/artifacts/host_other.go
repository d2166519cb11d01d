//go:build !unix

package artifacts

import (
	"os"
	"runtime"
)

func hostMetadata() map[string]any {
	metadata := map[string]any{"host_arch": runtime.GOARCH}
	if name, err := os.Hostname(); err == nil {
		metadata["host_name"] = name
	}
	return metadata
}
