package internal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"portfolio-rag/types"
)

// documentNamespace scopes the deterministic document ids.
var documentNamespace = uuid.MustParse("5b0bd6f4-3f57-4a8e-9a0c-2f3b8c1d7e61")

// Loader turns one file into text.
type Loader interface {
	Load(ctx context.Context, path string) (string, error)
}

// TextLoader reads plain text and markdown files as they are.
type TextLoader struct{}

func (TextLoader) Load(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SourceResult is what a scan of the document root produced.
type SourceResult struct {
	Documents []types.Document
	Skipped   []string // Files that were unrecognised or failed to load
}

// Source enumerates the documents below a root directory.
type Source struct {
	loaders map[types.MediaType]Loader
	logger  *slog.Logger
}

func NewSource(pdf PDFLoader, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		loaders: map[types.MediaType]Loader{
			types.MediaText:     TextLoader{},
			types.MediaMarkdown: TextLoader{},
			types.MediaPDF:      pdf,
		},
		logger: logger,
	}
}

// WithLoader replaces the loader of one media type.
func (s *Source) WithLoader(mt types.MediaType, l Loader) *Source {
	s.loaders[mt] = l
	return s
}

// Scan walks root recursively in lexical order. A root that cannot be read is
// a configuration error; individual files that fail are skipped.
func (s *Source) Scan(ctx context.Context, root string) (SourceResult, error) {
	var res SourceResult

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return res, types.ConfigurationError("source.scan",
			fmt.Errorf("document directory %q does not exist, create it and add .txt, .md or .pdf files: %w", root, err))
	}
	if err != nil {
		return res, types.ConfigurationError("source.scan", err)
	}
	if !info.IsDir() {
		return res, types.ConfigurationError("source.scan", fmt.Errorf("%s is not a directory", root))
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return res, types.ConfigurationError("source.scan", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)

		mt, ok := types.Classify(path)
		if !ok {
			s.logger.Debug("unrecognised file type", "file", rel)
			res.Skipped = append(res.Skipped, rel)
			continue
		}

		doc, err := s.load(ctx, path, rel, mt)
		if err != nil {
			s.logger.Warn("failed to load document", "file", rel, "error", err)
			res.Skipped = append(res.Skipped, rel)
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

func (s *Source) load(ctx context.Context, path, rel string, mt types.MediaType) (types.Document, error) {
	loader, ok := s.loaders[mt]
	if !ok {
		return types.Document{}, errors.New("no loader for " + string(mt))
	}

	text, err := loader.Load(ctx, path)
	if err != nil {
		return types.Document{}, err
	}

	doc := types.Document{
		SourceID:  rel,
		Title:     GenerateTitle(path),
		RawText:   normalizeText(text),
		MediaType: mt,
	}
	if info, err := os.Stat(path); err == nil {
		doc.ModTime = info.ModTime()
	}
	return doc, nil
}

func normalizeText(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}

// GenerateTitle derives a readable title from a file name.
func GenerateTitle(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// DocumentID is stable for a given source id.
func DocumentID(sourceID string) uuid.UUID {
	return uuid.NewSHA1(documentNamespace, []byte(sourceID))
}
