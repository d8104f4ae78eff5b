package unpack

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// isArchive reports whether name has a tar-family extension.
func isArchive(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".tgz") || strings.HasSuffix(n, ".tar.gz") || strings.HasSuffix(n, ".tar")
}

type tarStream struct {
	*tar.Reader
	closers []io.Closer
}

func (s *tarStream) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openTar opens a plain or gzip-compressed tar file, sniffing the gzip magic
// rather than trusting the extension.
func openTar(path string) (*tarStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, _ := br.Peek(2)
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &tarStream{Reader: tar.NewReader(gz), closers: []io.Closer{f, gz}}, nil
	}
	return &tarStream{Reader: tar.NewReader(br), closers: []io.Closer{f}}, nil
}

// listMembers reads every header of an archive without extracting it.
func listMembers(path string) ([]string, error) {
	ts, err := openTar(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ts.Close() }()
	var names []string
	for {
		hdr, err := ts.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}
		names = append(names, hdr.Name)
	}
}

// validateMembers rejects the archive when any member, after prefix
// stripping, would resolve outside the target directory.
func validateMembers(names []string, prefix []string) error {
	for _, name := range names {
		if strings.HasPrefix(name, "/") {
			return &UnsafePathError{Member: name}
		}
		rest, ok := stripParts(memberParts(name), prefix)
		if !ok {
			continue
		}
		if !filepath.IsLocal(filepath.Join(rest...)) {
			return &UnsafePathError{Member: name}
		}
	}
	return nil
}

// extractArchive validates and then writes an archive into target with prefix
// removed. Directories are created, regular files copied with their
// permission bits, and links or special files skipped.
func extractArchive(path, target string, names []string, prefix []string, logger *zap.Logger) error {
	if err := validateMembers(names, prefix); err != nil {
		return err
	}
	ts, err := openTar(path)
	if err != nil {
		return err
	}
	defer func() { _ = ts.Close() }()

	for {
		hdr, err := ts.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		rest, ok := stripParts(memberParts(hdr.Name), prefix)
		if !ok {
			continue
		}
		dest, err := securejoin.SecureJoin(target, filepath.Join(rest...))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", hdr.Name, err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return fmt.Errorf("mkdir %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := writeMember(dest, ts.Reader, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			logger.Debug("skipping unsupported tar member",
				zap.String("archive", path),
				zap.String("member", hdr.Name),
			)
		}
	}
}

func writeMember(dest string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dest), err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	if perm == 0 {
		perm = 0o644
	}
	_ = os.Chmod(dest, perm)
	return nil
}
