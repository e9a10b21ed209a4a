// Package docs renders the node's AsciiDoc documentation to HTML with
// libasciidoc. Rendered pages are cached until the source file changes.
package docs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
	"github.com/pkg/errors"
)

// ErrNotFound is returned for names outside the docs directory or without
// the .adoc extension.
var ErrNotFound = errors.New("doc not found")

type cachedDoc struct {
	modTime time.Time
	html    string
}

type Service struct {
	docsDir string
	cache   map[string]cachedDoc // filename -> rendered page
	mu      sync.RWMutex
}

func NewService(docsDir string) *Service {
	if docsDir == "" {
		docsDir = "docs"
	}
	return &Service{
		docsDir: docsDir,
		cache:   make(map[string]cachedDoc),
	}
}

// GetDoc returns the HTML body of the named document.
func (s *Service) GetDoc(ctx context.Context, filename string) (string, error) {
	if filename != filepath.Base(filename) || !strings.HasSuffix(filename, ".adoc") {
		return "", ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.docsDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "failed to stat doc file")
	}

	s.mu.RLock()
	cached, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.html, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read doc file")
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false), // embedded in the dashboard layout
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", errors.Wrap(err, "failed to convert asciidoc")
	}

	html := output.String()

	s.mu.Lock()
	s.cache[filename] = cachedDoc{modTime: info.ModTime(), html: html}
	s.mu.Unlock()

	return html, nil
}

// ListDocs returns the .adoc files of the docs directory in name order.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
