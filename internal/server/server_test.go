package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/epub"
	"github.com/lindenwick/folio/internal/logging"
)

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:creator>A. Writer</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="id">urn:test:server</dc:identifier>
  </metadata>
  <manifest>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

func testBook(t *testing.T) *epub.Book {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/text/ch1.xhtml":   "<html><body><p>chapter one</p></body></html>",
		"OEBPS/text/ch2.xhtml":   "<html><body><p>chapter two</p></body></html>",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	book, err := epub.OpenBytes("/books/server-test.epub", buf.Bytes())
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	return book
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	caches, err := cache.NewManager(cache.DefaultConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	srv := New(testBook(t), caches, nil, "", logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q message: %v", wantType, err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
}

func TestShellServed(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q; want text/html", ct)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q; want nosniff", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("responses should carry a request ID")
	}
}

func TestAPIBook(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/book")
	if err != nil {
		t.Fatalf("GET /api/book failed: %v", err)
	}
	defer resp.Body.Close()

	var info struct {
		Title        string `json:"title"`
		Author       string `json:"author"`
		ChapterCount int    `json:"chapter_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if info.Title != "Test Book" || info.Author != "A. Writer" {
		t.Errorf("book info = %+v; want fixture metadata", info)
	}
	if info.ChapterCount != 2 {
		t.Errorf("ChapterCount = %d; want 2", info.ChapterCount)
	}
}

func TestAPICoverAbsent(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/cover")
	if err != nil {
		t.Fatalf("GET /api/cover failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want 404 for a coverless book", resp.StatusCode)
	}
}

func TestWSHelloAndChapter(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)

	hello := readUntil(t, conn, "book")
	if hello["title"] != "Test Book" {
		t.Errorf("hello title = %v; want Test Book", hello["title"])
	}

	if err := conn.WriteJSON(map[string]any{"op": "chapter", "index": 1}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readUntil(t, conn, "chapter")
	if int(msg["index"].(float64)) != 1 {
		t.Errorf("chapter index = %v; want 1", msg["index"])
	}
	if html, _ := msg["html"].(string); !strings.Contains(html, "chapter two") {
		t.Errorf("chapter html = %q; want resolved chapter two", html)
	}
}

func TestWSChapterOutOfRange(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)
	readUntil(t, conn, "book")

	if err := conn.WriteJSON(map[string]any{"op": "chapter", "index": 99}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readUntil(t, conn, "error")
	if msg["title"] != "Chapter Not Found" {
		t.Errorf("error title = %v; want Chapter Not Found", msg["title"])
	}
}

func TestWSUnknownOp(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)
	readUntil(t, conn, "book")

	if err := conn.WriteJSON(map[string]any{"op": "dance"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readUntil(t, conn, "error")
	if m, _ := msg["message"].(string); !strings.Contains(m, "unknown operation") {
		t.Errorf("error message = %q; want unknown operation", m)
	}
}

func TestWSStats(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)
	readUntil(t, conn, "book")

	if err := conn.WriteJSON(map[string]any{"op": "chapter", "index": 0}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(t, conn, "chapter")

	if err := conn.WriteJSON(map[string]any{"op": "stats"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readUntil(t, conn, "stats")
	stats, ok := msg["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats payload = %T; want object", msg["stats"])
	}
	if total, _ := stats["total_items"].(float64); total < 2 {
		t.Errorf("total_items = %v; want at least the two chapter layers", total)
	}
}

func TestWSRapidNavigationSettles(t *testing.T) {
	_, ts := testServer(t)
	conn := dialWS(t, ts)
	readUntil(t, conn, "book")

	// Fire navigation faster than loads can finish; the session must settle
	// on the last requested chapter.
	for _, idx := range []int{0, 1, 0, 1} {
		if err := conn.WriteJSON(map[string]any{"op": "chapter", "index": idx}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	last := -1
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg["type"] == "chapter" {
			last = int(msg["index"].(float64))
		}
	}
	if last != 1 {
		t.Errorf("final delivered chapter = %d; want 1", last)
	}
}
