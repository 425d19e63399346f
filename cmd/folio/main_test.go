package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/lindenwick/folio/internal/settings"
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
    <dc:title>CLI Fixture</dc:title>
    <dc:creator>Nobody</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="id">urn:test:cli</dc:identifier>
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

func writeTestEPUB(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/text/ch1.xhtml":   "<html><body><p>one</p></body></html>",
		"OEBPS/text/ch2.xhtml":   "<html><body><p>two</p></body></html>",
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

	path := filepath.Join(t.TempDir(), "fixture.epub")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCacheStatsCmd(t *testing.T) {
	app := &appContext{settings: settings.Default()}
	cmd := &CacheStatsCmd{Path: writeTestEPUB(t), Chapters: 2}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("cache-stats failed: %v", err)
	}
}

func TestCacheStatsCmdClampsChapterCount(t *testing.T) {
	app := &appContext{settings: settings.Default()}
	cmd := &CacheStatsCmd{Path: writeTestEPUB(t), Chapters: 50}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("cache-stats with oversized chapter count failed: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	if err := (&VersionCmd{}).Run(&appContext{settings: settings.Default()}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
}
