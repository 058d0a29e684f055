package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ProcessedDirName is the sibling directory successfully handled files are
// moved into.
const ProcessedDirName = "procesados"

// moveToProcessed moves a file into the procesados/ subdirectory of its own
// directory and returns the destination path. When a same-named file already
// sits there, a timestamp-suffixed copy is written instead of overwriting.
func moveToProcessed(path string) (string, error) {
	destDir := filepath.Join(filepath.Dir(path), ProcessedDirName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}

	name := filepath.Base(path)
	dest := filepath.Join(destDir, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		stamp := time.Now().UTC().Format("20060102T150405")
		dest = filepath.Join(destDir, fmt.Sprintf("%s_%s%s", stem, stamp, ext))
	}

	if err := os.Rename(path, dest); err != nil {
		// Watch directories can live on a different filesystem than where
		// rename is allowed to land; fall back to copy-then-delete.
		if copyErr := copyFile(path, dest); copyErr != nil {
			return "", copyErr
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return "", fmt.Errorf("removing original after copy: %w", rmErr)
		}
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return out.Close()
}
