// Package library maintains the reader's book catalog in SQLite: which
// EPUBs the user has added, their metadata, and per-book reading positions.
// Books are fingerprinted with BLAKE3 so a moved file updates its catalog
// row instead of appearing twice.
package library

import (
	"context"
	"database/sql"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/lindenwick/folio/core/epub"
	"github.com/lindenwick/folio/core/errors"
	"github.com/lindenwick/folio/internal/logging"
	"github.com/lindenwick/folio/internal/sqlite"
)

// scanWorkers bounds concurrent EPUB parsing during a directory scan.
const scanWorkers = 4

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id            TEXT PRIMARY KEY,
	path          TEXT NOT NULL UNIQUE,
	fingerprint   TEXT NOT NULL UNIQUE,
	title         TEXT NOT NULL DEFAULT '',
	author        TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	chapter_count INTEGER NOT NULL DEFAULT 0,
	added_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	book_id       TEXT PRIMARY KEY REFERENCES books(id) ON DELETE CASCADE,
	chapter_index INTEGER NOT NULL,
	updated_at    TEXT NOT NULL
);
`

// Book is one catalog row.
type Book struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Fingerprint  string    `json:"fingerprint"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Language     string    `json:"language"`
	ChapterCount int       `json:"chapter_count"`
	AddedAt      time.Time `json:"added_at"`
}

// Position records where the user stopped reading a book.
type Position struct {
	BookID       string    `json:"book_id"`
	ChapterIndex int       `json:"chapter_index"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the catalog database. Safe for concurrent use; database/sql
// serializes access to the underlying connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.NewIO("open library database", path, err)
	}
	// A single connection avoids SQLITE_BUSY during concurrent scans.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewIO("initialize library schema", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add registers the EPUB at bookPath. The file is parsed for metadata and
// fingerprinted; re-adding an identical file that has moved on disk updates
// the stored path rather than creating a duplicate row.
func (s *Store) Add(bookPath string) (*Book, error) {
	abs, err := filepath.Abs(bookPath)
	if err != nil {
		return nil, errors.NewIO("resolve book path", bookPath, err)
	}

	fingerprint, err := fingerprintFile(abs)
	if err != nil {
		return nil, err
	}

	book, err := epub.Open(abs)
	if err != nil {
		return nil, err
	}
	defer book.Close()
	meta := book.Meta()

	if existing, err := s.byFingerprint(fingerprint); err == nil {
		if existing.Path != abs {
			if _, err := s.db.Exec(`UPDATE books SET path = ? WHERE id = ?`, abs, existing.ID); err != nil {
				return nil, errors.NewIO("update book path", abs, err)
			}
			existing.Path = abs
			logging.LibraryEvent("move", abs, "id", existing.ID)
		}
		return existing, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	row := &Book{
		ID:           uuid.NewString(),
		Path:         abs,
		Fingerprint:  fingerprint,
		Title:        meta.Title,
		Author:       meta.Author,
		Language:     meta.Language,
		ChapterCount: book.ChapterCount(),
		AddedAt:      time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO books (id, path, fingerprint, title, author, language, chapter_count, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Path, row.Fingerprint, row.Title, row.Author, row.Language,
		row.ChapterCount, row.AddedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, errors.Wrapf(errors.ErrAlreadyExists, "book already in library: %s", abs)
		}
		return nil, errors.NewIO("insert book", abs, err)
	}

	logging.LibraryEvent("add", abs, "id", row.ID, "title", row.Title)
	return row, nil
}

// Get returns a book by its catalog ID.
func (s *Store) Get(id string) (*Book, error) {
	return s.one(`SELECT id, path, fingerprint, title, author, language, chapter_count, added_at
		FROM books WHERE id = ?`, id)
}

// GetByPath returns a book by its stored file path.
func (s *Store) GetByPath(path string) (*Book, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewIO("resolve book path", path, err)
	}
	return s.one(`SELECT id, path, fingerprint, title, author, language, chapter_count, added_at
		FROM books WHERE path = ?`, abs)
}

// List returns all books ordered by title.
func (s *Store) List() ([]Book, error) {
	return s.many(`SELECT id, path, fingerprint, title, author, language, chapter_count, added_at
		FROM books ORDER BY title, author`)
}

// Remove deletes a book and its reading position.
func (s *Store) Remove(id string) error {
	res, err := s.db.Exec(`DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return errors.NewIO("delete book", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("book", id)
	}
	// SQLite only enforces the cascade with foreign keys enabled, so delete
	// the position row explicitly.
	if _, err := s.db.Exec(`DELETE FROM positions WHERE book_id = ?`, id); err != nil {
		return errors.NewIO("delete position", id, err)
	}
	logging.LibraryEvent("remove", id)
	return nil
}

// SavePosition stores the chapter the user is currently reading.
func (s *Store) SavePosition(bookID string, chapterIndex int) error {
	if chapterIndex < 0 {
		return errors.NewConfig("chapter_index", strconv.Itoa(chapterIndex), "must be non-negative")
	}
	if _, err := s.Get(bookID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO positions (book_id, chapter_index, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET chapter_index = excluded.chapter_index, updated_at = excluded.updated_at`,
		bookID, chapterIndex, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.NewIO("save position", bookID, err)
	}
	return nil
}

// LoadPosition returns the saved reading position, or ErrNotFound when the
// book has never been opened.
func (s *Store) LoadPosition(bookID string) (*Position, error) {
	var p Position
	var updated string
	err := s.db.QueryRow(
		`SELECT book_id, chapter_index, updated_at FROM positions WHERE book_id = ?`, bookID,
	).Scan(&p.BookID, &p.ChapterIndex, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("reading position", bookID)
	}
	if err != nil {
		return nil, errors.NewIO("load position", bookID, err)
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &p, nil
}

// ScanResult summarizes a directory scan.
type ScanResult struct {
	Added   []Book
	Skipped int // files already cataloged
	Failed  map[string]error
}

// Scan walks dir for .epub files and adds every one not already cataloged.
// Files are parsed concurrently; a file that fails to parse is reported in
// the result rather than aborting the scan.
func (s *Store) Scan(ctx context.Context, dir string) (*ScanResult, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".epub") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewIO("scan directory", dir, err)
	}

	result := &ScanResult{Failed: make(map[string]error)}
	type outcome struct {
		path  string
		book  *Book
		added bool
		err   error
	}
	outcomes := make([]outcome, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			before, lookupErr := s.byFingerprintOfFile(p)
			if lookupErr == nil && before != nil {
				outcomes[i] = outcome{path: p, book: before, added: false}
				return nil
			}
			book, addErr := s.Add(p)
			outcomes[i] = outcome{path: p, book: book, added: addErr == nil, err: addErr}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		switch {
		case o.err != nil:
			result.Failed[o.path] = o.err
		case o.added:
			result.Added = append(result.Added, *o.book)
		default:
			result.Skipped++
		}
	}
	logging.LibraryEvent("scan", dir,
		"added", len(result.Added), "skipped", result.Skipped, "failed", len(result.Failed))
	return result, nil
}

// byFingerprintOfFile hashes the file and looks it up, without parsing it.
func (s *Store) byFingerprintOfFile(path string) (*Book, error) {
	fp, err := fingerprintFile(path)
	if err != nil {
		return nil, err
	}
	return s.byFingerprint(fp)
}

func (s *Store) byFingerprint(fp string) (*Book, error) {
	return s.one(`SELECT id, path, fingerprint, title, author, language, chapter_count, added_at
		FROM books WHERE fingerprint = ?`, fp)
}

func (s *Store) one(query string, args ...any) (*Book, error) {
	var b Book
	var added string
	err := s.db.QueryRow(query, args...).Scan(
		&b.ID, &b.Path, &b.Fingerprint, &b.Title, &b.Author, &b.Language, &b.ChapterCount, &added)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("book", "")
	}
	if err != nil {
		return nil, errors.NewIO("query book", "", err)
	}
	b.AddedAt, _ = time.Parse(time.RFC3339Nano, added)
	return &b, nil
}

func (s *Store) many(query string, args ...any) ([]Book, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.NewIO("query books", "", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var b Book
		var added string
		if err := rows.Scan(&b.ID, &b.Path, &b.Fingerprint, &b.Title, &b.Author,
			&b.Language, &b.ChapterCount, &added); err != nil {
			return nil, errors.NewIO("scan book row", "", err)
		}
		b.AddedAt, _ = time.Parse(time.RFC3339Nano, added)
		books = append(books, b)
	}
	return books, rows.Err()
}

// fingerprintFile returns the hex BLAKE3 digest of the file's contents.
func fingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.NewIO("read book file", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
