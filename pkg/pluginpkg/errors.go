package pluginpkg

import "fmt"

// MalformedPackageError reports a package whose manifest is missing required
// fields or cannot be decoded.
type MalformedPackageError struct {
	FileName string
	Reason   string
}

func (e *MalformedPackageError) Error() string {
	return fmt.Sprintf("malformed plugin package %q: %s", e.FileName, e.Reason)
}

// UnsupportedPackageError reports an archive format the parser does not
// recognize.
type UnsupportedPackageError struct {
	FileName string
}

func (e *UnsupportedPackageError) Error() string {
	return fmt.Sprintf("unsupported plugin package format: %q", e.FileName)
}
