// Package resolve rewrites chapter HTML so it renders self-contained:
// relative <img> references are replaced with base64 data URIs read from the
// book archive, consulting the image cache before touching the archive.
package resolve

import (
	"encoding/base64"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/errors"
)

// ResourceSource is the slice of a book the resolver needs: identity for
// cache-key namespacing and raw resource access.
type ResourceSource interface {
	Path() string
	ReadResource(href string) ([]byte, error)
}

// Resolver embeds a book's images into chapter HTML. Resolution is
// idempotent: data URIs and absolute URLs are left untouched, so HTML with
// no unresolved relative references passes through unchanged.
//
// A referenced image that cannot be located is a corrupted-content condition,
// but it degrades per image: the original fragment is preserved, a warning is
// logged, and the rest of the chapter still resolves.
type Resolver struct {
	book   ResourceSource
	images *cache.ImageCache
	logger *slog.Logger
}

// New creates a resolver for one book. The image cache may be nil, in which
// case every resolution reads the archive.
func New(book ResourceSource, images *cache.ImageCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		book:   book,
		images: images,
		logger: logger,
	}
}

// Resolve rewrites every relative <img> src in html, resolving paths against
// the chapter document's directory.
func (r *Resolver) Resolve(html, chapterHref string) (string, error) {
	baseDir := path.Dir(chapterHref)
	if baseDir == "." {
		baseDir = ""
	}

	var out strings.Builder
	remaining := html
	for {
		tagStart := findImgTag(remaining)
		if tagStart == -1 {
			out.WriteString(remaining)
			break
		}
		tagEnd := strings.Index(remaining[tagStart:], ">")
		if tagEnd == -1 {
			out.WriteString(remaining)
			break
		}
		tagEnd += tagStart + 1

		out.WriteString(remaining[:tagStart])
		out.WriteString(r.resolveTag(remaining[tagStart:tagEnd], baseDir))
		remaining = remaining[tagEnd:]
	}
	return out.String(), nil
}

// resolveTag rewrites a single <img ...> tag, or returns it unchanged when
// its src is absent, already absolute, or cannot be embedded.
func (r *Resolver) resolveTag(tag, baseDir string) string {
	src, start, end := extractSrc(tag)
	if src == "" || !isRelative(src) {
		return tag
	}

	ref := src
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	resourcePath := path.Clean(path.Join(baseDir, ref))

	dataURI, err := r.embed(resourcePath)
	if err != nil {
		// Keep the unresolved fragment; one bad image must not take the
		// chapter down.
		r.logger.Warn("image_resolve_failed", "book", r.book.Path(), "resource", resourcePath, "error", err)
		return tag
	}
	return tag[:start] + dataURI + tag[end:]
}

// embed returns the data URI for a resource, from the cache when warm.
func (r *Resolver) embed(resourcePath string) (string, error) {
	key := cache.ImageKey(r.book.Path(), resourcePath)
	if r.images != nil {
		if uri, ok := r.images.Get(key); ok {
			return uri, nil
		}
	}

	data, err := r.book.ReadResource(resourcePath)
	if err != nil {
		if errors.Is(err, errors.ErrCorrupted) {
			return "", err
		}
		return "", errors.NewCorrupted(r.book.Path(), resourcePath, "referenced image not in archive")
	}

	uri := "data:" + mimeFor(resourcePath) + ";base64," + base64.StdEncoding.EncodeToString(data)
	if r.images != nil {
		r.images.Set(key, uri)
	}
	return uri, nil
}

// findImgTag returns the index of the next <img tag, matching
// case-insensitively. The tag name must end at a boundary so elements like
// <imgfoo> are not mistaken for images.
func findImgTag(s string) int {
	for i := 0; ; i++ {
		idx := strings.Index(s[i:], "<")
		if idx == -1 {
			return -1
		}
		i += idx
		rest := s[i:]
		if len(rest) >= 5 && strings.EqualFold(rest[:4], "<img") && tagNameEnd(rest[4]) {
			return i
		}
	}
}

// tagNameEnd reports whether b legally terminates a tag name.
func tagNameEnd(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '/', '>':
		return true
	}
	return false
}

// extractSrc finds the quoted src value inside an img tag, returning the
// value and the byte range it occupies.
func extractSrc(tag string) (value string, start, end int) {
	lower := strings.ToLower(tag)
	attr := strings.Index(lower, "src")
	for attr != -1 {
		rest := tag[attr+3:]
		trimmed := strings.TrimLeft(rest, " \t")
		if strings.HasPrefix(trimmed, "=") {
			eq := attr + 3 + (len(rest) - len(trimmed))
			afterEq := strings.TrimLeft(tag[eq+1:], " \t")
			if len(afterEq) > 0 && (afterEq[0] == '"' || afterEq[0] == '\'') {
				quote := afterEq[0]
				valStart := eq + 1 + (len(tag[eq+1:]) - len(afterEq)) + 1
				valEnd := strings.IndexByte(tag[valStart:], quote)
				if valEnd == -1 {
					return "", 0, 0
				}
				return tag[valStart : valStart+valEnd], valStart, valStart + valEnd
			}
		}
		next := strings.Index(lower[attr+3:], "src")
		if next == -1 {
			return "", 0, 0
		}
		attr += 3 + next
	}
	return "", 0, 0
}

// isRelative reports whether src is a relative archive reference rather than
// an already-resolved or external one.
func isRelative(src string) bool {
	switch {
	case strings.HasPrefix(src, "data:"),
		strings.HasPrefix(src, "http://"),
		strings.HasPrefix(src, "https://"),
		strings.HasPrefix(src, "file:"),
		strings.HasPrefix(src, "//"),
		strings.HasPrefix(src, "/"):
		return false
	}
	return src != ""
}

// mimeFor maps an image path to its media type by extension.
func mimeFor(resourcePath string) string {
	switch strings.ToLower(path.Ext(resourcePath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
