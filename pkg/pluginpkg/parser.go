package pluginpkg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Parser reads plugin distribution artifacts and produces descriptors.
// It never touches the registry or ledger; its only side effect is a
// temporary extraction directory that is removed on every exit path.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse reads a plugin package (tar.gz or zip, by file extension), extracts
// it, and returns the validated descriptor from its manifest.json.
func (p *Parser) Parse(sourceBytes []byte, fileName string) (*PluginDescriptor, error) {
	tmpDir, err := os.MkdirTemp("", "pluginpkg-*")
	if err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			p.logger.Error("failed to remove extraction dir", "dir", tmpDir, "error", rmErr)
		}
	}()

	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = extractTarGz(sourceBytes, tmpDir)
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(sourceBytes, tmpDir)
	default:
		return nil, &UnsupportedPackageError{FileName: fileName}
	}
	if err != nil {
		return nil, &MalformedPackageError{FileName: fileName, Reason: err.Error()}
	}

	raw, err := readManifest(tmpDir)
	if err != nil {
		return nil, &MalformedPackageError{FileName: fileName, Reason: err.Error()}
	}

	desc, err := decodeManifest(raw, fileName)
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed plugin package",
		"fileName", fileName,
		"pluginId", desc.ID,
		"version", desc.Version,
		"dependencies", len(desc.Dependencies))
	return desc, nil
}

// readManifest locates manifest.json in the extraction dir, either at the
// root or one directory down (archives built with a top-level folder).
func readManifest(dir string) ([]byte, error) {
	candidates := []string{filepath.Join(dir, ManifestFileName)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extraction dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(dir, e.Name(), ManifestFileName))
		}
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if info.Size() > maxManifestSize {
			return nil, fmt.Errorf("%s exceeds maximum allowed size (1 MiB)", ManifestFileName)
		}
		return os.ReadFile(c)
	}
	return nil, fmt.Errorf("%s not found in archive", ManifestFileName)
}

// safeJoin resolves name under dir, rejecting path traversal.
func safeJoin(dir, name string) (string, error) {
	dst := filepath.Join(dir, filepath.Clean("/"+name))
	if !strings.HasPrefix(dst, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction dir", name)
	}
	return dst, nil
}

func extractTarGz(sourceBytes []byte, dir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(sourceBytes))
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		dst, err := safeJoin(dir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(dst, tr, header.Size); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
		}
	}
	return nil
}

func extractZip(sourceBytes []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(sourceBytes), int64(len(sourceBytes)))
	if err != nil {
		return fmt.Errorf("open zip archive: %w", err)
	}
	for _, f := range zr.File {
		dst, err := safeJoin(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", f.Name, err)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		err = writeEntry(dst, rc, int64(f.UncompressedSize64))
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func writeEntry(dst string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	n, err := io.Copy(out, io.LimitReader(r, size+1))
	if err != nil {
		return err
	}
	if n > size {
		return fmt.Errorf("entry larger than declared size %d", size)
	}
	return nil
}
