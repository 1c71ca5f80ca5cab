package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sealgate/internal/gate"
)

// FileSystemVault is a filesystem-based implementation of gate.Vault,
// typically pointed at a mounted remote or removable disk:
//
//	<root>/
//	  sealed/
//	    <name>          (ciphertext)
//	    <name>.version  (decimal version marker)
type FileSystemVault struct {
	name      string
	root      string
	sealedDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	sealedDir := filepath.Join(root, "sealed")
	if err := os.MkdirAll(sealedDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sealed directory: %w", err)
	}

	return &FileSystemVault{
		name:      name,
		root:      root,
		sealedDir: sealedDir,
	}, nil
}

// PutSealed stores the ciphertext and then its version marker. The version
// is written last so a reader never sees a version for missing data.
func (v *FileSystemVault) PutSealed(ctx context.Context, name string, r io.Reader, size int64, version int64) error {
	if err := validName(name); err != nil {
		return err
	}
	destPath := filepath.Join(v.sealedDir, name)
	if err := v.writeFile(destPath, r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return v.writeFile(destPath+".version", strings.NewReader(versionData), int64(len(versionData)))
}

// GetSealed retrieves the ciphertext for name and writes it to w.
func (v *FileSystemVault) GetSealed(ctx context.Context, name string, w io.Writer) error {
	if err := validName(name); err != nil {
		return err
	}
	srcPath := filepath.Join(v.sealedDir, name)
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("sealed store not found: %s", name)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// SealedVersion returns the version for name. Returns 0 if no version file
// exists.
func (v *FileSystemVault) SealedVersion(ctx context.Context, name string) (int64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(v.sealedDir, name+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.sealedDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// validName rejects names that would escape the sealed directory.
func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid sealed store name: %q", name)
	}
	return nil
}

var _ gate.Vault = (*FileSystemVault)(nil)
