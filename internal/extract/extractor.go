// Package extract turns uploaded or watched files into plain text for chunking.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned for extensions without a registered handler
// whose content does not look like text.
var ErrUnsupported = errors.New("unsupported file format")

// Func extracts text from the raw bytes of one file.
type Func func(content []byte) (string, error)

// Extractor dispatches on the lower-cased file extension.
type Extractor struct {
	handlers map[string]Func
}

// NewExtractor returns an Extractor for plain text, Markdown, reStructuredText,
// PDF, DOCX and XLSX.
func NewExtractor() *Extractor {
	e := &Extractor{handlers: make(map[string]Func)}
	for _, ext := range []string{".txt", ".md", ".rst"} {
		e.Register(ext, extractPlain)
	}
	e.Register(".pdf", extractPDF)
	e.Register(".docx", extractDOCX)
	e.Register(".xlsx", extractExcel)
	return e
}

// Register installs fn for ext, replacing any previous handler.
func (e *Extractor) Register(ext string, fn Func) {
	e.handlers[normalizeExt(ext)] = fn
}

// Supports reports whether ext has a registered handler.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.handlers[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.handlers))
	for ext := range e.handlers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on ext (with leading dot).
// Files with an unknown extension are accepted as plain text unless they
// contain NUL bytes.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := e.handlers[normalizeExt(ext)]; ok {
		return fn(content)
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return extractPlain(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
