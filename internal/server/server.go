// Package server hosts the reading UI: a small HTTP server that serves the
// reader shell and a WebSocket endpoint driving chapter navigation. Chapter
// loads run in the background through the cache manager, so navigation stays
// responsive and a superseded request is cancelled rather than awaited.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/epub"
	"github.com/lindenwick/folio/core/resolve"
	"github.com/lindenwick/folio/internal/library"
	"github.com/lindenwick/folio/internal/logging"
)

// Server serves one open book to one or more reading sessions.
type Server struct {
	book     *epub.Book
	caches   *cache.Manager
	resolver *resolve.Resolver
	store    *library.Store // optional: enables reading-position persistence
	bookID   string         // catalog ID when the book is in the library
	logger   *slog.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	clients  atomic.Int32
}

// New creates a server for an open book. store and bookID may be zero when
// the book is read outside the library, in which case positions are not
// persisted.
func New(book *epub.Book, caches *cache.Manager, store *library.Store, bookID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		book:     book,
		caches:   caches,
		resolver: resolve.New(book, caches.Images(), logger),
		store:    store,
		bookID:   bookID,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The reader binds to localhost and serves a single local user.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the server's route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleShell)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/book", s.handleBook)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/cover", s.handleCover)
	return logging.CombinedMiddleware(securityHeaders(mux))
}

// ListenAndServe serves until Shutdown or a listener error.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logging.ServerStartup("reader", "http", addrPort(addr), "book", s.book.Path())
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(readerShell))
}

// bookInfo is the /api/book document and the WebSocket hello payload.
type bookInfo struct {
	Type         string `json:"type,omitempty"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Language     string `json:"language"`
	ChapterCount int    `json:"chapter_count"`
	Position     int    `json:"position"`
}

func (s *Server) bookInfo() bookInfo {
	meta := s.book.Meta()
	info := bookInfo{
		Title:        meta.Title,
		Author:       meta.Author,
		Language:     meta.Language,
		ChapterCount: s.book.ChapterCount(),
	}
	if s.store != nil && s.bookID != "" {
		if pos, err := s.store.LoadPosition(s.bookID); err == nil {
			info.Position = pos.ChapterIndex
		}
	}
	return info
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bookInfo())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.caches.CombinedStats())
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	data, mediaType, err := s.book.Cover()
	if err != nil {
		http.Error(w, "no cover", http.StatusNotFound)
		return
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}
	logging.SessionEvent("client_connected", int(s.clients.Add(1)))
	sess := newSession(s, conn)
	sess.run()
	logging.SessionEvent("client_disconnected", int(s.clients.Add(-1)))
}

// addrPort extracts the numeric port from a listen address, 0 when absent.
func addrPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// securityHeaders sets conservative browser headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
