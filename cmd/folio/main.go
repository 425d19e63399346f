// Command folio is a desktop EPUB reader served to the local browser. It
// keeps a library catalog in SQLite and reads chapters through a cached,
// cancellable background loader.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/epub"
	"github.com/lindenwick/folio/core/errors"
	"github.com/lindenwick/folio/core/reader"
	"github.com/lindenwick/folio/core/resolve"
	"github.com/lindenwick/folio/internal/archive"
	"github.com/lindenwick/folio/internal/library"
	"github.com/lindenwick/folio/internal/logging"
	"github.com/lindenwick/folio/internal/server"
	"github.com/lindenwick/folio/internal/settings"
	"github.com/lindenwick/folio/internal/sqlite"
)

const version = "0.1.0"

// CLI defines the command-line interface for folio.
var CLI struct {
	Settings string `name:"settings" help:"Settings file path (default: user config dir)" type:"path"`
	Debug    bool   `name:"debug" help:"Enable debug logging"`
	JSONLog  bool   `name:"json-log" help:"Log in JSON format"`

	Read       ReadCmd       `cmd:"" help:"Open a book in the browser reader"`
	Library    LibraryGroup  `cmd:"" help:"Manage the book catalog"`
	Backup     BackupCmd     `cmd:"" help:"Back up the library database and settings"`
	Restore    RestoreCmd    `cmd:"" help:"Restore a backup"`
	CacheStats CacheStatsCmd `cmd:"" help:"Load chapters from a book and print cache statistics"`
	Info       InfoCmd       `cmd:"" help:"Show configuration and driver information"`
	Version    VersionCmd    `cmd:"" help:"Print version information"`
}

// LibraryGroup contains catalog operations.
type LibraryGroup struct {
	Add    LibraryAddCmd    `cmd:"" help:"Add an EPUB to the catalog"`
	List   LibraryListCmd   `cmd:"" help:"List cataloged books"`
	Remove LibraryRemoveCmd `cmd:"" help:"Remove a book from the catalog"`
	Search LibrarySearchCmd `cmd:"" help:"Search the catalog"`
	Scan   LibraryScanCmd   `cmd:"" help:"Scan a directory for EPUBs"`
}

// appContext carries resolved configuration into command Run methods.
type appContext struct {
	settings     settings.Settings
	settingsPath string
}

func (a *appContext) libraryPath() (string, error) {
	if a.settings.LibraryDB != "" {
		return a.settings.LibraryDB, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.NewIO("locate config directory", "", err)
	}
	return filepath.Join(base, "folio", "library.db"), nil
}

func (a *appContext) openLibrary() (*library.Store, error) {
	path, err := a.libraryPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewIO("create library directory", path, err)
	}
	return library.Open(path)
}

// ReadCmd serves one book to the local browser.
type ReadCmd struct {
	Path string `arg:"" help:"Path to the EPUB file" type:"existingfile"`
	Addr string `name:"addr" default:"127.0.0.1:8674" help:"Listen address"`
}

func (c *ReadCmd) Run(app *appContext) error {
	caches, err := cache.NewManager(app.settings.Cache, logging.GetLogger())
	if err != nil {
		return err
	}

	book, err := epub.Open(c.Path)
	if err != nil {
		return err
	}
	defer book.Close()

	// Position persistence needs the catalog row; reading a book outside
	// the library still works, it just starts from the first chapter.
	var store *library.Store
	var bookID string
	if s, err := app.openLibrary(); err == nil {
		if row, err := s.GetByPath(c.Path); err == nil {
			store = s
			bookID = row.ID
		} else {
			s.Close()
		}
	} else {
		logging.Warn("library unavailable, reading without position persistence", "error", err)
	}
	if store != nil {
		defer store.Close()
	}

	srv := server.New(book, caches, store, bookID, logging.GetLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	meta := book.Meta()
	fmt.Printf("Reading %q at http://%s/\n", meta.Title, c.Addr)
	if err := srv.ListenAndServe(c.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// LibraryAddCmd adds one EPUB to the catalog.
type LibraryAddCmd struct {
	Path string `arg:"" help:"Path to the EPUB file" type:"existingfile"`
}

func (c *LibraryAddCmd) Run(app *appContext) error {
	store, err := app.openLibrary()
	if err != nil {
		return err
	}
	defer store.Close()

	book, err := store.Add(c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Added %q by %s (%d chapters)\n", book.Title, book.Author, book.ChapterCount)
	fmt.Printf("  id: %s\n", book.ID)
	return nil
}

// LibraryListCmd lists the catalog.
type LibraryListCmd struct{}

func (c *LibraryListCmd) Run(app *appContext) error {
	store, err := app.openLibrary()
	if err != nil {
		return err
	}
	defer store.Close()

	books, err := store.List()
	if err != nil {
		return err
	}
	printBooks(books)
	return nil
}

// LibraryRemoveCmd removes a book by catalog ID.
type LibraryRemoveCmd struct {
	ID string `arg:"" help:"Catalog ID of the book"`
}

func (c *LibraryRemoveCmd) Run(app *appContext) error {
	store, err := app.openLibrary()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Remove(c.ID); err != nil {
		return err
	}
	fmt.Println("Removed", c.ID)
	return nil
}

// LibrarySearchCmd searches the catalog.
type LibrarySearchCmd struct {
	Query []string `arg:"" help:"Search terms (bare words, title:, author:, lang:)"`
}

func (c *LibrarySearchCmd) Run(app *appContext) error {
	store, err := app.openLibrary()
	if err != nil {
		return err
	}
	defer store.Close()

	books, err := store.Search(strings.Join(c.Query, " "))
	if err != nil {
		return err
	}
	printBooks(books)
	return nil
}

// LibraryScanCmd scans a directory tree for EPUBs.
type LibraryScanCmd struct {
	Dir string `arg:"" help:"Directory to scan" type:"existingdir"`
}

func (c *LibraryScanCmd) Run(app *appContext) error {
	store, err := app.openLibrary()
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.Scan(context.Background(), c.Dir)
	if err != nil {
		return err
	}
	for _, b := range result.Added {
		fmt.Printf("added   %q by %s\n", b.Title, b.Author)
	}
	for path, ferr := range result.Failed {
		fmt.Printf("failed  %s: %v\n", path, ferr)
	}
	fmt.Printf("%d added, %d already cataloged, %d failed\n",
		len(result.Added), result.Skipped, len(result.Failed))
	return nil
}

// BackupCmd bundles the library database and settings into a tar.xz file.
type BackupCmd struct {
	Output string `arg:"" help:"Backup file to create (tar.xz)" type:"path"`
}

func (c *BackupCmd) Run(app *appContext) error {
	dbPath, err := app.libraryPath()
	if err != nil {
		return err
	}
	if err := archive.Create(c.Output, dbPath, app.settingsPath); err != nil {
		return err
	}
	fmt.Println("Backup written to", c.Output)
	return nil
}

// RestoreCmd unpacks a backup into a directory.
type RestoreCmd struct {
	Input string `arg:"" help:"Backup file to restore" type:"existingfile"`
	Dir   string `arg:"" help:"Directory to restore into" type:"path"`
}

func (c *RestoreCmd) Run(app *appContext) error {
	if err := archive.Extract(c.Input, c.Dir); err != nil {
		return err
	}
	names, err := archive.List(c.Input)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d file(s) into %s\n", len(names), c.Dir)
	return nil
}

// CacheStatsCmd warms the caches against a book and prints the combined
// statistics snapshot as JSON.
type CacheStatsCmd struct {
	Path     string `arg:"" help:"Path to the EPUB file" type:"existingfile"`
	Chapters int    `name:"chapters" default:"3" help:"Number of chapters to load"`
}

func (c *CacheStatsCmd) Run(app *appContext) error {
	caches, err := cache.NewManager(app.settings.Cache, logging.GetLogger())
	if err != nil {
		return err
	}

	book, err := epub.Open(c.Path)
	if err != nil {
		return err
	}
	defer book.Close()

	resolver := resolve.New(book, caches.Images(), logging.GetLogger())
	n := min(c.Chapters, book.ChapterCount())
	for index := range n {
		loader := reader.NewChapterLoader(book, resolver, caches, index, nil, nil, logging.GetLogger())
		loader.Start()
		loader.Wait()
	}
	caches.CheckMemoryThreshold()

	out, err := json.MarshalIndent(caches.CombinedStats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// InfoCmd prints resolved configuration and driver details.
type InfoCmd struct{}

func (c *InfoCmd) Run(app *appContext) error {
	driver := sqlite.GetInfo()
	dbPath, err := app.libraryPath()
	if err != nil {
		return err
	}

	fmt.Println("folio", version)
	fmt.Println("settings file:  ", app.settingsPath)
	fmt.Println("library db:     ", dbPath)
	fmt.Printf("sqlite driver:   %s (%s)\n", driver.DriverName, driver.DriverType)
	fmt.Println("theme:          ", app.settings.Theme)
	fmt.Printf("cache:           rendered=%d raw=%d images=%.0fMB threshold=%.0fMB\n",
		app.settings.Cache.RenderedMaxEntries, app.settings.Cache.RawMaxEntries,
		app.settings.Cache.ImageBudgetMB, app.settings.Cache.MemoryThresholdMB)
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *appContext) error {
	fmt.Println("folio", version)
	return nil
}

func printBooks(books []library.Book) {
	if len(books) == 0 {
		fmt.Println("no books")
		return
	}
	for _, b := range books {
		fmt.Printf("%s  %-30q %-20s %s\n", b.ID, b.Title, b.Author, b.Path)
	}
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("folio"),
		kong.Description("Folio - a cached, cancellable EPUB reader"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	level := logging.LevelInfo
	if CLI.Debug {
		level = logging.LevelDebug
	}
	format := logging.FormatText
	if CLI.JSONLog {
		format = logging.FormatJSON
	}
	logging.InitLogger(level, format)

	settingsPath := CLI.Settings
	if settingsPath == "" {
		var err error
		settingsPath, err = settings.DefaultPath()
		ctx.FatalIfErrorf(err)
	}
	cfg, err := settings.Load(settingsPath)
	ctx.FatalIfErrorf(err)

	err = ctx.Run(&appContext{settings: cfg, settingsPath: settingsPath})
	ctx.FatalIfErrorf(err)
}
