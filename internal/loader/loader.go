// Package loader reads the compliance corpus from disk and turns it into
// normalized documents and overlapping chunks ready for embedding.
//
// Plain text (.txt, .text, .md) and PDF files are supported. A file that
// cannot be read or parsed is reported in [LoadResult.Failures] and the rest
// of the batch is still loaded.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
)

// Format identifies how a document's text was extracted.
type Format string

const (
	// FormatText is a plain text or markdown file.
	FormatText Format = "text"
	// FormatPDF is a PDF whose text layer was extracted.
	FormatPDF Format = "pdf"
)

// Document is one normalized source file.
type Document struct {
	// ID is stable across runs: the slash-separated path relative to the
	// ingested directory, or the base name for an explicitly listed file.
	ID string
	// Path is the filesystem path the document was read from.
	Path string
	// Text is the normalized document body.
	Text string
	// Format records how Text was extracted.
	Format Format
	// Framework is the compliance framework inferred from name and content.
	Framework string
}

// ErrEmptyDocument is wrapped by an UnreadableSourceError when a file holds
// no text after normalization.
var ErrEmptyDocument = errors.New("document has no extractable text")

// ErrDuplicateID is wrapped by an UnreadableSourceError when two files map to
// the same document id within one batch. The first one wins.
var ErrDuplicateID = errors.New("duplicate document id")

// UnreadableSourceError reports a file that was skipped.
type UnreadableSourceError struct {
	Path string
	Err  error
}

func (e *UnreadableSourceError) Error() string {
	return fmt.Sprintf("loader: unreadable source %s: %v", e.Path, e.Err)
}

func (e *UnreadableSourceError) Unwrap() error { return e.Err }

// LoadResult is the outcome of a Load call.
type LoadResult struct {
	// Documents are the successfully loaded documents, sorted by ID.
	Documents []Document
	// Failures lists every skipped file in walk order.
	Failures []*UnreadableSourceError
	// Err is set when the batch itself was aborted (missing root, cancelled context).
	Err error
}

// supportedExt maps a lowercase file extension to its document format.
var supportedExt = map[string]Format{
	".txt":  FormatText,
	".text": FormatText,
	".md":   FormatText,
	".pdf":  FormatPDF,
}

// Supported reports whether path has an extension the loader can read.
func Supported(path string) bool {
	_, ok := FormatOf(path)
	return ok
}

// Load reads every supported file under paths. Each path may be a file or a
// directory; directories are walked recursively in lexical order and hidden
// entries are skipped.
func Load(ctx context.Context, paths []string) *LoadResult {
	res := &LoadResult{}
	seen := make(map[string]string)

	add := func(id, path string) {
		if prev, dup := seen[id]; dup {
			res.Failures = append(res.Failures, &UnreadableSourceError{
				Path: path,
				Err:  fmt.Errorf("%w %q (already loaded from %s)", ErrDuplicateID, id, prev),
			})
			return
		}
		doc, err := ReadFile(path, id)
		if err != nil {
			res.Failures = append(res.Failures, &UnreadableSourceError{Path: path, Err: err})
			return
		}
		seen[id] = path
		res.Documents = append(res.Documents, doc)
	}

	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		info, err := os.Stat(root)
		if err != nil {
			res.Failures = append(res.Failures, &UnreadableSourceError{Path: root, Err: err})
			continue
		}

		if !info.IsDir() {
			add(filepath.Base(root), root)
			continue
		}

		if err := walkDir(ctx, root, add, res); err != nil {
			res.Err = err
			break
		}
	}

	sort.Slice(res.Documents, func(i, j int) bool {
		return res.Documents[i].ID < res.Documents[j].ID
	})
	return res
}

// walkDir visits the supported files below root in lexical order.
func walkDir(ctx context.Context, root string, add func(id, path string), res *LoadResult) error {
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if osPathname != root && strings.HasPrefix(de.Name(), ".") {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}
			if de.IsDir() || !Supported(osPathname) {
				return nil
			}
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				rel = de.Name()
			}
			add(filepath.ToSlash(rel), osPathname)
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			if ctx.Err() != nil {
				return godirwalk.Halt
			}
			res.Failures = append(res.Failures, &UnreadableSourceError{Path: osPathname, Err: err})
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("loader: walk %s: %w", root, err)
	}
	return nil
}

// FormatOf returns the document format implied by name's extension.
func FormatOf(name string) (Format, bool) {
	f, ok := supportedExt[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

// ReadFile reads and normalizes a single file under the given document id.
func ReadFile(path, id string) (Document, error) {
	format, ok := FormatOf(path)
	if !ok {
		return Document{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(id, path, data, format)
}

// Parse extracts and normalizes the text of data. path only labels the
// result; it may be a URL.
func Parse(id, path string, data []byte, format Format) (Document, error) {
	var raw string
	switch format {
	case FormatPDF:
		var err error
		raw, err = extractPDF(data)
		if err != nil {
			return Document{}, err
		}
	default:
		raw = string(data)
	}

	text := Normalize(raw)
	if text == "" {
		return Document{}, ErrEmptyDocument
	}

	return Document{
		ID:        id,
		Path:      path,
		Text:      text,
		Format:    format,
		Framework: InferFramework(id, text),
	}, nil
}
