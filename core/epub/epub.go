// Package epub provides pure Go read access to EPUB documents: container
// resolution, package-document (OPF) parsing, spine-ordered chapter access,
// and resource extraction. It implements the book side of the reader's
// chapter-loading protocol.
//
// Security note: OPF and container documents are parsed with xmlquery, which
// uses Go's encoding/xml internally and does not fetch external entities.
package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/lindenwick/folio/core/errors"
)

// Precompiled selectors for the container and package documents. xmlquery
// matches on local names, so the dc: and opf: namespaces need no prefixes.
var (
	exprRootfile = xpath.MustCompile("//rootfile[@media-type='application/oebps-package+xml']")
	exprManifest = xpath.MustCompile("//package/manifest/item")
	exprSpine    = xpath.MustCompile("//package/spine/itemref")
	exprMetaTag  = xpath.MustCompile("//package/metadata/meta")
)

// Metadata contains the book's Dublin Core metadata.
type Metadata struct {
	Title       string
	Author      string
	Language    string
	Identifier  string
	Publisher   string
	Description string
}

// manifestItem is one entry of the OPF manifest.
type manifestItem struct {
	id         string
	href       string // resolved relative to the archive root
	mediaType  string
	properties string
}

// Book is an opened EPUB. It is immutable after Open and safe for
// concurrent readers; the only shared state is the underlying zip, whose
// per-file readers are independent.
type Book struct {
	path     string
	files    map[string]*zip.File
	closer   io.Closer
	opfDir   string
	meta     Metadata
	manifest map[string]manifestItem
	spine    []manifestItem
	cover    manifestItem
}

// Open opens the EPUB at the given path. The path doubles as the book's
// cache-key identity, so callers should pass an absolute path.
func Open(bookPath string) (*Book, error) {
	zr, err := zip.OpenReader(bookPath)
	if err != nil {
		return nil, errors.NewCorrupted(bookPath, "", "not a readable EPUB archive: "+err.Error())
	}

	b, err := fromZip(bookPath, &zr.Reader)
	if err != nil {
		zr.Close()
		return nil, err
	}
	b.closer = zr
	return b, nil
}

// OpenBytes opens an EPUB held in memory, identified by the given path.
func OpenBytes(bookPath string, data []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NewCorrupted(bookPath, "", "not a readable EPUB archive: "+err.Error())
	}
	return fromZip(bookPath, zr)
}

func fromZip(bookPath string, zr *zip.Reader) (*Book, error) {
	b := &Book{
		path:     bookPath,
		files:    make(map[string]*zip.File, len(zr.File)),
		manifest: make(map[string]manifestItem),
	}
	for _, f := range zr.File {
		b.files[path.Clean(f.Name)] = f
	}

	opfPath, err := b.containerRootfile()
	if err != nil {
		return nil, err
	}
	b.opfDir = path.Dir(opfPath)
	if b.opfDir == "." {
		b.opfDir = ""
	}

	if err := b.parseOPF(opfPath); err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the underlying archive for books opened from a file.
func (b *Book) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// Path returns the book's stable identity string.
func (b *Book) Path() string {
	return b.path
}

// Meta returns the book's metadata.
func (b *Book) Meta() Metadata {
	return b.meta
}

// ChapterCount returns the number of spine entries.
func (b *Book) ChapterCount() int {
	return len(b.spine)
}

// ChapterContent returns the raw XHTML of the chapter at the given
// zero-based spine index.
func (b *Book) ChapterContent(index int) (string, error) {
	if index < 0 || index >= len(b.spine) {
		return "", errors.NewChapterNotFound(b.path, index, len(b.spine))
	}

	href := b.spine[index].href
	data, err := b.readEntry(href)
	if err != nil {
		// A spine entry whose document is missing is a damaged book, not
		// an out-of-range chapter.
		if errors.Is(err, errors.ErrNotFound) {
			return "", errors.NewCorrupted(b.path, href, "chapter document missing from archive")
		}
		return "", err
	}
	return string(data), nil
}

// ChapterHref returns the archive path of the chapter document at the given
// zero-based spine index, used to resolve its relative image references.
func (b *Book) ChapterHref(index int) (string, error) {
	if index < 0 || index >= len(b.spine) {
		return "", errors.NewChapterNotFound(b.path, index, len(b.spine))
	}
	return b.spine[index].href, nil
}

// ReadResource reads a manifest resource by its archive path.
func (b *Book) ReadResource(href string) ([]byte, error) {
	return b.readEntry(path.Clean(href))
}

// Cover returns the cover image's bytes and media type. Books without a
// detectable cover return ErrNotFound; callers degrade to a placeholder.
func (b *Book) Cover() ([]byte, string, error) {
	if b.cover.href == "" {
		return nil, "", errors.NewNotFound("cover", b.path)
	}
	data, err := b.readEntry(b.cover.href)
	if err != nil {
		return nil, "", err
	}
	return data, b.cover.mediaType, nil
}

// containerRootfile locates the OPF path from META-INF/container.xml.
func (b *Book) containerRootfile() (string, error) {
	data, err := b.readEntry("META-INF/container.xml")
	if err != nil {
		return "", errors.NewCorrupted(b.path, "META-INF/container.xml", "missing or unreadable container")
	}

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return "", errors.NewCorrupted(b.path, "META-INF/container.xml", "malformed container XML: "+err.Error())
	}

	node := xmlquery.QuerySelector(doc, exprRootfile)
	if node == nil {
		return "", errors.NewCorrupted(b.path, "META-INF/container.xml", "no package rootfile declared")
	}

	opfPath := node.SelectAttr("full-path")
	if opfPath == "" {
		return "", errors.NewCorrupted(b.path, "META-INF/container.xml", "rootfile has empty full-path")
	}
	return path.Clean(opfPath), nil
}

// parseOPF reads the package document: metadata, manifest, spine, cover.
func (b *Book) parseOPF(opfPath string) error {
	data, err := b.readEntry(opfPath)
	if err != nil {
		return errors.NewCorrupted(b.path, opfPath, "missing or unreadable package document")
	}

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return errors.NewCorrupted(b.path, opfPath, "malformed package document: "+err.Error())
	}

	b.meta = Metadata{
		Title:       metadataText(doc, "title"),
		Author:      metadataText(doc, "creator"),
		Language:    metadataText(doc, "language"),
		Identifier:  metadataText(doc, "identifier"),
		Publisher:   metadataText(doc, "publisher"),
		Description: metadataText(doc, "description"),
	}

	for _, node := range xmlquery.QuerySelectorAll(doc, exprManifest) {
		item := manifestItem{
			id:         node.SelectAttr("id"),
			href:       b.resolveHref(node.SelectAttr("href")),
			mediaType:  node.SelectAttr("media-type"),
			properties: node.SelectAttr("properties"),
		}
		if item.id != "" {
			b.manifest[item.id] = item
		}
	}

	for _, node := range xmlquery.QuerySelectorAll(doc, exprSpine) {
		idref := node.SelectAttr("idref")
		item, ok := b.manifest[idref]
		if !ok {
			return errors.NewCorrupted(b.path, opfPath, "spine references undeclared manifest item "+idref)
		}
		b.spine = append(b.spine, item)
	}
	if len(b.spine) == 0 {
		return errors.NewCorrupted(b.path, opfPath, "spine declares no chapters")
	}

	b.cover = b.detectCover(doc)
	return nil
}

// detectCover finds the cover image: the EPUB 3 cover-image property first,
// then the EPUB 2 meta name="cover" pointer, then a manifest item that just
// calls itself "cover".
func (b *Book) detectCover(doc *xmlquery.Node) manifestItem {
	for _, item := range b.manifest {
		if strings.Contains(item.properties, "cover-image") {
			return item
		}
	}

	for _, node := range xmlquery.QuerySelectorAll(doc, exprMetaTag) {
		if node.SelectAttr("name") == "cover" {
			if item, ok := b.manifest[node.SelectAttr("content")]; ok {
				return item
			}
		}
	}

	for _, item := range b.manifest {
		if item.id == "cover" && strings.HasPrefix(item.mediaType, "image/") {
			return item
		}
	}
	return manifestItem{}
}

// metadataText extracts the text of the first metadata element with the
// given local name. Dublin Core elements carry a dc: prefix, so matching
// has to go through local-name() rather than a plain element step.
func metadataText(doc *xmlquery.Node, name string) string {
	node := xmlquery.FindOne(doc, "//package/metadata/*[local-name()='"+name+"']")
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.InnerText())
}

// resolveHref turns a manifest href (relative to the OPF, possibly
// percent-encoded) into a clean archive path.
func (b *Book) resolveHref(href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if b.opfDir != "" {
		return path.Clean(path.Join(b.opfDir, href))
	}
	return path.Clean(href)
}

// readEntry reads one archive entry in full.
func (b *Book) readEntry(name string) ([]byte, error) {
	f, ok := b.files[name]
	if !ok {
		return nil, errors.NewNotFound("archive entry", name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, errors.NewCorrupted(b.path, name, "cannot open archive entry: "+err.Error())
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.NewCorrupted(b.path, name, "cannot read archive entry: "+err.Error())
	}
	return data, nil
}
