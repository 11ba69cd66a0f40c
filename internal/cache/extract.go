package cache

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Extract unpacks a distribution archive into destDir, choosing the format
// from the filename: .tar.gz, .tar.xz or .zip. Entries escaping destDir are
// rejected.
func Extract(archivePath, destDir string) error {
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTar(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			return gz, nil
		})

	case strings.HasSuffix(archivePath, ".tar.xz"):
		return extractTar(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})

	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, destDir)

	default:
		return &ExtractionError{Archive: archivePath, Err: fmt.Errorf("unrecognized archive format")}
	}
}

func extractTar(archivePath, destDir string, decompress func(io.Reader) (io.Reader, error)) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return &ExtractionError{Archive: archivePath, Err: err}
	}
	defer archiveFile.Close()

	reader, err := decompress(archiveFile)
	if err != nil {
		return &ExtractionError{Archive: archivePath, Err: err}
	}

	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &ExtractionError{Archive: archivePath, Err: err}
	}

	tarReader := tar.NewReader(reader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return &ExtractionError{Archive: archivePath, Err: err}
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return &ExtractionError{Archive: archivePath, Err: err}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &ExtractionError{Archive: archivePath, Err: err}
			}

		case tar.TypeReg:
			if err := writeEntry(target, tarReader, os.FileMode(header.Mode)); err != nil {
				return &ExtractionError{Archive: archivePath, Err: err}
			}

		case tar.TypeSymlink:
			if err := secureLinkTarget(destDir, target, header.Linkname); err != nil {
				return &ExtractionError{Archive: archivePath, Err: err}
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &ExtractionError{Archive: archivePath, Err: err}
			}

			if err := os.Symlink(header.Linkname, target); err != nil {
				return &ExtractionError{Archive: archivePath, Err: err}
			}

		default:
			// Device nodes and the like never appear in node dists.
			continue
		}
	}
}

func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return &ExtractionError{Archive: archivePath, Err: err}
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &ExtractionError{Archive: archivePath, Err: err}
	}

	for _, file := range reader.File {
		target, err := securePath(destDir, file.Name)
		if err != nil {
			return &ExtractionError{Archive: archivePath, Err: err}
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &ExtractionError{Archive: archivePath, Err: err}
			}

			continue
		}

		src, err := file.Open()
		if err != nil {
			return &ExtractionError{Archive: archivePath, Err: err}
		}

		err = writeEntry(target, src, file.Mode())
		src.Close()

		if err != nil {
			return &ExtractionError{Archive: archivePath, Err: err}
		}
	}

	return nil
}

// securePath joins an archive entry name onto destDir, rejecting entries
// that would escape it.
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))

	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}

	return target, nil
}

// secureLinkTarget rejects symlink entries whose target resolves outside
// destDir, whether absolute or relative to the link's directory.
func secureLinkTarget(destDir, linkPath, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("illegal link target %q", linkname)
	}

	resolved := filepath.Join(filepath.Dir(linkPath), filepath.FromSlash(linkname))

	if !strings.HasPrefix(resolved, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal link target %q", linkname)
	}

	return nil
}

func writeEntry(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
