package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aistack/plugin-registry/pkg/ledger"
)

// maxPackageSize bounds remote package downloads (64 MiB).
const maxPackageSize = 64 << 20

// Source identifies a plugin package to install: raw bytes with a file
// name, a local path, a URL, or a marketplace reference. Exactly one of
// the four forms should be populated.
type Source struct {
	FileName      string `json:"fileName,omitempty"`
	Bytes         []byte `json:"bytes,omitempty"`
	Path          string `json:"path,omitempty"`
	URL           string `json:"url,omitempty"`
	MarketplaceID string `json:"marketplaceId,omitempty"`
}

// Describe returns a short human-readable reference for logs and task
// error messages.
func (s Source) Describe() string {
	switch {
	case s.Path != "":
		return s.Path
	case s.URL != "":
		return s.URL
	case s.MarketplaceID != "":
		return "marketplace:" + s.MarketplaceID
	default:
		return s.FileName
	}
}

// RuntimeType classifies the source for the ledger row.
func (s Source) RuntimeType() string {
	switch {
	case s.URL != "":
		return ledger.RuntimeRemote
	case s.MarketplaceID != "":
		return ledger.RuntimeMarketplace
	default:
		return ledger.RuntimeLocal
	}
}

// MarketplaceClient fetches package artifacts by marketplace reference.
// The concrete marketplace is an external collaborator.
type MarketplaceClient interface {
	FetchPackage(ctx context.Context, marketplaceID string) (data []byte, fileName string, err error)
}

// fetch materializes the source into package bytes plus a file name for
// format detection. Downloads and file reads are the only blocking I/O in
// the install path.
func (c *Controller) fetch(ctx context.Context, src Source) ([]byte, string, error) {
	switch {
	case len(src.Bytes) > 0:
		if src.FileName == "" {
			return nil, "", fmt.Errorf("package bytes provided without a file name")
		}
		return src.Bytes, src.FileName, nil

	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, "", fmt.Errorf("read package file %s: %w", src.Path, err)
		}
		return data, filepath.Base(src.Path), nil

	case src.URL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("build package request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("download package %s: %w", src.URL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("download package %s: unexpected status %s", src.URL, resp.Status)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPackageSize))
		if err != nil {
			return nil, "", fmt.Errorf("read package body: %w", err)
		}
		return data, filepath.Base(req.URL.Path), nil

	case src.MarketplaceID != "":
		if c.marketplace == nil {
			return nil, "", fmt.Errorf("no marketplace client configured")
		}
		data, fileName, err := c.marketplace.FetchPackage(ctx, src.MarketplaceID)
		if err != nil {
			return nil, "", fmt.Errorf("fetch marketplace package %s: %w", src.MarketplaceID, err)
		}
		return data, fileName, nil

	default:
		return nil, "", fmt.Errorf("empty package source")
	}
}
