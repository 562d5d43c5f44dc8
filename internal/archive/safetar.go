package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

// UnsafeArchiveError reports the first safety rule a member violated. A single
// bad member rejects the whole archive.
type UnsafeArchiveError struct {
	Member string
	Reason string
}

func (e *UnsafeArchiveError) Error() string {
	return fmt.Sprintf("unsafe archive member %q: %s", e.Member, e.Reason)
}

const (
	// Anything above this is treated as a decompression bomb.
	maxMemberSize  = 2 << 30 // 2 GiB per member
	maxArchiveSize = 8 << 30
)

type Extractor struct {
	log *logger.Logger
	// dataRoot is the allow-listed directory all extraction targets must
	// live under.
	dataRoot string
}

func NewExtractor(log *logger.Logger, dataRoot string) (*Extractor, error) {
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	return &Extractor{log: log.With("service", "Extractor"), dataRoot: abs}, nil
}

// Extract unpacks a gzip-compressed tar into targetDir. Extraction is staged
// into a scratch directory and renamed into place only once every member has
// passed validation, so a rejected archive leaves targetDir untouched.
func (e *Extractor) Extract(archivePath, targetDir string) (err error) {
	base, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolve target dir: %w", err)
	}
	if !within(e.dataRoot, base) {
		return fmt.Errorf("target dir %q escapes data root %q", base, e.dataRoot)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	staging := base + ".extracting"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()

	if err := e.unpack(f, staging); err != nil {
		return err
	}

	if err := os.RemoveAll(base); err != nil {
		return fmt.Errorf("clear target dir: %w", err)
	}
	if err := os.Rename(staging, base); err != nil {
		return fmt.Errorf("promote staging dir: %w", err)
	}
	return nil
}

func (e *Extractor) unpack(r io.Reader, base string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	var total int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if err := e.validate(base, hdr); err != nil {
			return err
		}

		dest := filepath.Join(base, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create dir %q: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create parent of %q: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("create file %q: %w", hdr.Name, err)
			}
			n, err := io.Copy(out, io.LimitReader(tr, maxMemberSize+1))
			cerr := out.Close()
			if err != nil {
				return fmt.Errorf("write file %q: %w", hdr.Name, err)
			}
			if cerr != nil {
				return fmt.Errorf("close file %q: %w", hdr.Name, cerr)
			}
			if n > maxMemberSize {
				return &UnsafeArchiveError{Member: hdr.Name, Reason: "member exceeds size limit"}
			}
			total += n
			if total > maxArchiveSize {
				return &UnsafeArchiveError{Member: hdr.Name, Reason: "archive exceeds size limit"}
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create parent of %q: %w", hdr.Name, err)
			}
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return fmt.Errorf("create symlink %q: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			linkTarget := filepath.Join(base, filepath.FromSlash(hdr.Linkname))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create parent of %q: %w", hdr.Name, err)
			}
			if err := os.Link(linkTarget, dest); err != nil {
				return fmt.Errorf("create hardlink %q: %w", hdr.Name, err)
			}
		default:
			// validate already rejected devices and FIFOs; skip the rest
			// (pax headers etc.) silently.
		}
	}
}

// validate applies the safety rules from the archive contract: no member may
// materialize, or point, outside the extraction base, and special files are
// refused outright.
func (e *Extractor) validate(base string, hdr *tar.Header) error {
	switch hdr.Typeflag {
	case tar.TypeChar, tar.TypeBlock:
		return &UnsafeArchiveError{Member: hdr.Name, Reason: "device file"}
	case tar.TypeFifo:
		return &UnsafeArchiveError{Member: hdr.Name, Reason: "fifo"}
	}

	dest := filepath.Join(base, filepath.FromSlash(hdr.Name))
	if !within(base, dest) {
		return &UnsafeArchiveError{Member: hdr.Name, Reason: "path escapes extraction directory"}
	}

	switch hdr.Typeflag {
	case tar.TypeSymlink:
		// Resolve the link target relative to the directory holding the link.
		target := hdr.Linkname
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(dest), filepath.FromSlash(hdr.Linkname))
		}
		if !within(base, target) {
			return &UnsafeArchiveError{Member: hdr.Name, Reason: "symlink target escapes extraction directory"}
		}
	case tar.TypeLink:
		target := filepath.Join(base, filepath.FromSlash(hdr.Linkname))
		if !within(base, target) {
			return &UnsafeArchiveError{Member: hdr.Name, Reason: "hardlink target escapes extraction directory"}
		}
	}
	return nil
}

// within reports whether path lives under base after lexical cleaning.
func within(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
