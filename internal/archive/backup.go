// Package archive creates and restores reader backups: a tar.xz bundle of
// the library database and the settings file. Book files themselves are not
// bundled; the catalog records their paths.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/lindenwick/folio/core/errors"
)

// Create writes a tar.xz backup at dstPath containing the given files. Each
// file is stored flat under its base name; a source that does not exist is
// skipped so a fresh install with no settings file still backs up.
func Create(dstPath string, sources ...string) error {
	if len(sources) == 0 {
		return errors.NewConfig("sources", "", "backup needs at least one file")
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return errors.NewIO("create backup directory", dstPath, err)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return errors.NewIO("create backup", dstPath, err)
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return errors.NewIO("compress backup", dstPath, err)
	}
	tw := tar.NewWriter(xw)

	now := time.Now()
	written := 0
	for _, src := range sources {
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errors.NewIO("stat backup source", src, err)
		}
		if info.IsDir() {
			return errors.NewConfig("sources", src, "backup sources must be files")
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return errors.NewIO("describe backup source", src, err)
		}
		header.Name = filepath.Base(src)
		header.ModTime = now
		if err := tw.WriteHeader(header); err != nil {
			return errors.NewIO("write backup entry", src, err)
		}

		f, err := os.Open(src)
		if err != nil {
			return errors.NewIO("read backup source", src, err)
		}
		_, copyErr := io.Copy(tw, f)
		f.Close()
		if copyErr != nil {
			return errors.NewIO("write backup entry", src, copyErr)
		}
		written++
	}
	if written == 0 {
		return errors.NewNotFound("backup sources", strings.Join(sources, ", "))
	}

	if err := tw.Close(); err != nil {
		return errors.NewIO("finish backup", dstPath, err)
	}
	if err := xw.Close(); err != nil {
		return errors.NewIO("finish backup", dstPath, err)
	}
	return out.Close()
}

// Extract unpacks a backup into destDir. Entry names are flattened to their
// base names, so a crafted archive cannot write outside destDir.
func Extract(srcPath, destDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return errors.NewIO("open backup", srcPath, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return errors.NewCorrupted(srcPath, "", "not an xz stream: "+err.Error())
	}
	tr := tar.NewReader(xr)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.NewIO("create restore directory", destDir, err)
	}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewCorrupted(srcPath, "", "damaged backup archive: "+err.Error())
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(destDir, filepath.Base(header.Name))
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return errors.NewIO("restore backup entry", target, err)
		}
		_, copyErr := io.Copy(out, tr)
		closeErr := out.Close()
		if copyErr != nil {
			return errors.NewIO("restore backup entry", target, copyErr)
		}
		if closeErr != nil {
			return errors.NewIO("restore backup entry", target, closeErr)
		}
	}
}

// List returns the entry names in a backup without extracting it.
func List(srcPath string) ([]string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, errors.NewIO("open backup", srcPath, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return nil, errors.NewCorrupted(srcPath, "", "not an xz stream: "+err.Error())
	}
	tr := tar.NewReader(xr)

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, errors.NewCorrupted(srcPath, "", "damaged backup archive: "+err.Error())
		}
		if header.Typeflag == tar.TypeReg {
			names = append(names, header.Name)
		}
	}
}
