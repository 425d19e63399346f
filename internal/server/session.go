package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/reader"
	"github.com/lindenwick/folio/internal/logging"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
)

// request is a client message on the reading socket.
type request struct {
	Op    string `json:"op"` // "chapter" or "stats"
	Index int    `json:"index"`
}

// chapterMessage delivers a resolved chapter.
type chapterMessage struct {
	Type  string `json:"type"` // "chapter"
	Index int    `json:"index"`
	HTML  string `json:"html"`
}

// errorMessage delivers a classified load failure.
type errorMessage struct {
	Type    string `json:"type"` // "error"
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// session is one WebSocket reading session. Navigation requests supersede
// each other: starting a new chapter load cancels the previous one, and a
// completion from a superseded load is discarded by generation check.
type session struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	gen    uint64
	loader *reader.ChapterLoader
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// run pumps the session until the client disconnects.
func (s *session) run() {
	done := make(chan struct{})
	go s.writeLoop(done)

	s.hello()
	s.readLoop()

	s.mu.Lock()
	if s.loader != nil {
		s.loader.Cancel()
	}
	s.mu.Unlock()

	close(done)
	s.conn.Close()
}

func (s *session) readLoop() {
	for {
		var req request
		if err := s.conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Op {
		case "chapter":
			s.goToChapter(req.Index)
		case "stats":
			s.sendStats()
		default:
			s.enqueue(errorMessage{Type: "error", Title: "Unexpected Error",
				Message: "unknown operation: " + req.Op})
		}
	}
}

// writeLoop is the only goroutine that writes to the connection; loader
// callbacks and the read loop both funnel through the send channel.
func (s *session) writeLoop(done <-chan struct{}) {
	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// hello sends book metadata and the saved reading position on connect.
func (s *session) hello() {
	info := s.srv.bookInfo()
	info.Type = "book"
	s.enqueue(info)
}

// goToChapter starts a background load, cancelling any load in flight.
func (s *session) goToChapter(index int) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.loader != nil {
		s.loader.Cancel()
	}

	start := time.Now()
	loader := reader.NewChapterLoader(
		s.srv.book, s.srv.resolver, s.srv.caches, index,
		func(html string) { s.chapterReady(gen, index, html, start) },
		func(title, message string) { s.chapterFailed(gen, index, title, message, start) },
		s.srv.logger,
	)
	s.loader = loader
	s.mu.Unlock()

	loader.Start()
}

// chapterReady delivers a completed load unless navigation has moved on.
func (s *session) chapterReady(gen uint64, index int, html string, start time.Time) {
	if s.stale(gen) {
		s.srv.logger.Debug("session_stale_completion", "index", index)
		return
	}
	logging.ChapterLoad(s.srv.book.Path(), index, "completed", time.Since(start))
	s.enqueue(chapterMessage{Type: "chapter", Index: index, HTML: html})
	s.savePosition(index)
	s.sendStats()
}

func (s *session) chapterFailed(gen uint64, index int, title, message string, start time.Time) {
	if s.stale(gen) {
		return
	}
	logging.ChapterLoad(s.srv.book.Path(), index, "failed", time.Since(start), "title", title)
	s.enqueue(errorMessage{Type: "error", Index: index, Title: title, Message: message})
}

func (s *session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

func (s *session) savePosition(index int) {
	if s.srv.store == nil || s.srv.bookID == "" {
		return
	}
	if err := s.srv.store.SavePosition(s.srv.bookID, index); err != nil {
		s.srv.logger.Warn("session_position_save_failed", "index", index, "error", err)
	}
}

func (s *session) sendStats() {
	stats := s.srv.caches.CombinedStats()
	s.enqueue(struct {
		Type  string              `json:"type"`
		Stats cache.CombinedStats `json:"stats"`
	}{Type: "stats", Stats: stats})
}

// enqueue marshals and queues a message; a slow client drops stats and
// progress messages rather than blocking loader callbacks.
func (s *session) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.srv.logger.Error("session_marshal_failed", "error", err)
		return
	}
	select {
	case s.send <- data:
	default:
		s.srv.logger.Warn("session_send_dropped")
	}
}
