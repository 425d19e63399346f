// Package reader provides the background chapter-loading protocol that sits
// between the cache layer and the reading surface. A ChapterLoader is a
// single-use unit of work: it checks the chapter caches, falls back to the
// book and the image resolver on a miss, repopulates the caches, and hands
// the result to a one-shot callback.
package reader

// ChapterSource is the book side of a chapter load. core/epub implements it;
// tests substitute fakes.
type ChapterSource interface {
	// Path returns the book's stable identity, its absolute file path.
	// Cache keys are namespaced by it.
	Path() string

	// ChapterCount returns the number of chapters in the spine.
	ChapterCount() int

	// ChapterContent returns the raw HTML of the chapter at the given
	// zero-based spine index. Out-of-range indexes fail with a
	// chapter-not-found error; unreadable archive entries fail with a
	// corrupted-content error.
	ChapterContent(index int) (string, error)

	// ChapterHref returns the spine-relative path of the chapter document,
	// used to resolve relative image references.
	ChapterHref(index int) (string, error)
}

// ImageResolver rewrites a chapter's relative image references into
// self-contained form. Resolve is idempotent on HTML that has no unresolved
// relative references left.
type ImageResolver interface {
	Resolve(html, chapterHref string) (string, error)
}
