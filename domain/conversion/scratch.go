package conversion

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// materializeScratch copies the source stream to a temp file, since the
// conversion engine needs file-path access rather than a stream. The
// returned cleanup must be called on every exit path. The source
// filename's extension is preserved so the engine can sniff the format.
func materializeScratch(src io.Reader, filename string) (string, func(), error) {
	f, err := os.CreateTemp("", "meridian-scratch-*"+filepath.Ext(filename))
	if err != nil {
		return "", nil, fmt.Errorf("create scratch file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close scratch file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// derivedFilename swaps the source filename's extension.
func derivedFilename(source, ext string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	if base == "" {
		base = "derived"
	}
	return base + ext
}
