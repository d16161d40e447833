// Package export builds the JSON backup bundles and the printable roster.
package export

import "errors"

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrInvalidBundle marks an import file missing its required keys.
	ErrInvalidBundle = errors.New("export: invalid bundle")
	// ErrPDFDependencyMissing indicates no Chrome is reachable for PDF output.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
