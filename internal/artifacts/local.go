package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// LocalArtifactStore moves artifacts between directories on the local host.
type LocalArtifactStore struct {
	// WriteMetadata stores a <artifact>.json sidecar next to each relocated artifact.
	WriteMetadata bool
}

// Relocate moves sourcePath into destinationDir, keeping its file name.
func (store *LocalArtifactStore) Relocate(sourcePath, destinationDir string, kind ArtifactKind, metadata map[string]any) (Artifact, error) {
	if sourcePath == "" {
		return Artifact{}, errors.New("artifact path is required")
	}
	if destinationDir == "" {
		return Artifact{}, errors.New("destination directory is required")
	}

	destDir, err := filepath.Abs(destinationDir)
	if err != nil {
		return Artifact{}, fmt.Errorf("resolve destination: %w", err)
	}
	destPath := filepath.Join(destDir, filepath.Base(sourcePath))

	if err := moveFile(sourcePath, destPath); err != nil {
		return Artifact{}, err
	}

	artifact, err := Describe(destPath, kind, metadata)
	if err != nil {
		return Artifact{}, err
	}

	if store.WriteMetadata {
		if err := writeMetadata(destPath, artifact); err != nil {
			return Artifact{}, err
		}
	}
	return artifact, nil
}

// Describe records a local file as an artifact without moving it. Host
// metadata fills keys that metadata does not set.
func Describe(path string, kind ArtifactKind, metadata map[string]any) (Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("resolve artifact path: %w", err)
	}
	checksum, err := fileChecksum(abs)
	if err != nil {
		return Artifact{}, err
	}

	merged := cloneMetadata(metadata)
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range hostMetadata() {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}

	return Artifact{
		ID:          uuid.NewString(),
		Kind:        kind,
		URI:         FileURI(abs),
		Checksum:    &checksum,
		ContentType: detectContentType(abs),
		Metadata:    merged,
	}, nil
}

// RemoveArtifact deletes the artifact file and its metadata document.
func (store *LocalArtifactStore) RemoveArtifact(artifact Artifact) error {
	path, err := PathFromURI(artifact.URI)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metadataPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	// rename cannot cross filesystems
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(hash.Sum(nil)), nil
}

func writeMetadata(filePath string, artifact Artifact) error {
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metadataPath(filePath), payload, 0o644)
}

func metadataPath(path string) string {
	return path + ".json"
}

func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".box", ".gz", ".tgz":
		return "application/gzip"
	case ".json":
		return "application/json"
	case ".iso":
		return "application/x-iso9660-image"
	default:
		return "application/octet-stream"
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}
