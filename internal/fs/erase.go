package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const eraseChunkSize = 64 * 1024

// SecureErase overwrites the full extent of the regular file at path with
// zero bytes, flushes it to stable storage, and removes it. If path does not
// exist SecureErase does nothing.
//
// Only the file's current extent is overwritten through the filesystem API.
// Copy-on-write filesystems, SSD wear levelling and snapshots may still hold
// earlier blocks; that remanence is outside what this function can promise.
func SecureErase(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("refusing to erase non-regular file %s (%s)", path, info.Mode().Type())
	}

	if err := zeroFill(path, info.Size()); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return syncDir(filepath.Dir(path))
}

func zeroFill(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s for erase: %w", path, err)
	}
	defer f.Close()

	zeros := make([]byte, eraseChunkSize)
	for off := int64(0); off < size; {
		n := int64(len(zeros))
		if remaining := size - off; remaining < n {
			n = remaining
		}
		w, err := f.WriteAt(zeros[:n], off)
		if err != nil {
			return fmt.Errorf("overwriting %s: %w", path, err)
		}
		off += int64(w)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return nil
}
