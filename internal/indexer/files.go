package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/fileid"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"go.uber.org/zap"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IndexFile reads a file from path and indexes it. The document ID is derived from the
// absolute path so re-indexing updates the same document. If allowedExts is non-empty,
// the file's extension must be in the list (case-insensitive).
// Files already indexed with the same mtime and size are skipped.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}

	docID := fileid.FileDocID(absPath)
	existing, err := idx.storage.GetDocument(ctx, docID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("lookup document: %w", err)
	}
	if existing != nil && unchanged(existing, absPath, info) {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return nil
	}

	text, err := idx.extractContent(absPath)
	if err != nil {
		return fmt.Errorf("extract content: %w", err)
	}
	title := filepath.Base(absPath)
	meta := map[string]interface{}{
		metaKeySourcePath:  absPath,
		metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
		metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
	}
	if existing != nil {
		_, err = idx.UpdateDocument(ctx, docID, &models.DocumentUpdate{Title: &title, Content: &text, Metadata: meta})
	} else {
		_, err = idx.CreateDocument(ctx, &models.DocumentInput{ID: docID, Title: title, Content: text, Metadata: meta})
	}
	if err != nil {
		return err
	}
	idx.logger.Debug("indexer file indexed", zap.String("path", absPath), zap.String("doc_id", docID))
	return nil
}

// RemoveFile deletes the document previously indexed from path. A file that
// was never indexed is not an error.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = idx.DeleteDocument(ctx, fileid.FileDocID(absPath))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// unchanged reports whether doc was indexed from absPath with the same mtime and size.
func unchanged(doc *models.Document, absPath string, info os.FileInfo) bool {
	if doc.Metadata == nil || doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	// Stored as strings: UnixNano exceeds the 53 bits a JSON float64 holds.
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// IndexDirectory walks dir recursively and indexes each regular file whose extension
// is in allowedExts (all files when empty). Empty and unsupported files are skipped.
// Returns the number of files indexed and the first other error encountered.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Follow symlinks; only regular targets are indexed.
		if finfo, statErr := os.Stat(path); statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		indexErr := idx.IndexFile(ctx, path, allowedExts)
		if errors.Is(indexErr, ErrEmptyContent) || errors.Is(indexErr, extract.ErrUnsupported) {
			idx.logger.Info("skipping file", zap.String("path", path), zap.Error(indexErr))
			return nil
		}
		if indexErr != nil {
			return fmt.Errorf("%s: %w", path, indexErr)
		}
		n++
		return nil
	})
	return n, err
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// PruneMissingFiles deletes file-backed documents whose source file no longer
// exists. Documents created through the API are left alone.
func (idx *Indexer) PruneMissingFiles(ctx context.Context) (int, error) {
	const pageSize = 100
	var stale []string
	for offset := 0; ; offset += pageSize {
		docs, err := idx.storage.ListDocuments(ctx, offset, pageSize)
		if err != nil {
			return 0, fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			if !fileid.IsFileDocID(doc.ID) {
				continue
			}
			path, _ := doc.Metadata[metaKeySourcePath].(string)
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				stale = append(stale, doc.ID)
			}
		}
		if len(docs) < pageSize {
			break
		}
	}
	for _, id := range stale {
		if err := idx.DeleteDocument(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("delete %s: %w", id, err)
		}
		idx.logger.Info("pruned missing file", zap.String("doc_id", id))
	}
	return len(stale), nil
}
