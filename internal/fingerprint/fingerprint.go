// Package fingerprint implements the Fingerprint & Path Service (spec §4.A):
// cross-platform path normalization, file hashing, ignore-aware directory
// walking, and stable document id generation. The walking discipline
// (recursive descent, ignore checks before descending into a directory)
// follows the teacher's filesystem scanning code in pkg/synchronization/core;
// the ignore evaluation itself is delegated to internal/ignorepatterns.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	pathpkg "path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"golang.org/x/text/cases"

	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/ignorepatterns"
)

// Fingerprint describes a single file's identity at a point in time.
type Fingerprint struct {
	// Path is the path relative to the folder root, forward-slash separated.
	Path string
	// Hash is the hex-encoded cryptographic digest of the file's contents.
	Hash string
	// Size is the file size in bytes.
	Size int64
	// ModTime is the file's modification time, as reported by the host
	// filesystem, formatted as a Unix nanosecond timestamp for stable
	// comparison across storage round-trips.
	ModTime int64
}

// caseFolder lower-cases a path component for case-insensitive filesystems.
// Windows and macOS default filesystems are case-insensitive; Linux defaults
// are case-sensitive. Folding uses a Unicode-aware caser rather than
// strings.ToLower so that non-ASCII file names fold consistently with the
// host's own case-insensitive comparison.
var caseFolder = cases.Fold()

// caseInsensitiveHost reports whether the host's default filesystem treats
// paths case-insensitively. This is a platform default, not a per-volume
// probe; a case-sensitive volume mounted on such a host is out of scope.
func caseInsensitiveHost() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Normalize resolves path to its canonical absolute form: URL-decoded where
// decodable, made absolute, case-folded on case-insensitive hosts, and
// stripped of any trailing separator except at the filesystem root.
func Normalize(path string) (string, error) {
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "INVALID_PATH", err, fmt.Sprintf("unable to resolve %q", path))
	}
	absolute = filepath.ToSlash(absolute)

	if caseInsensitiveHost() {
		absolute = caseFolder.String(absolute)
	}

	if len(absolute) > 1 && strings.HasSuffix(absolute, "/") {
		absolute = strings.TrimSuffix(absolute, "/")
	}

	return absolute, nil
}

// IsSubPath reports whether child, expressed as a path relative to parent,
// is a genuine descendant: non-empty, not an upward reference, and not
// itself absolute.
func IsSubPath(child, parent string) bool {
	normalizedChild, err := Normalize(child)
	if err != nil {
		return false
	}
	normalizedParent, err := Normalize(parent)
	if err != nil {
		return false
	}

	relative, err := filepath.Rel(normalizedParent, normalizedChild)
	if err != nil {
		return false
	}
	relative = filepath.ToSlash(relative)

	if relative == "" || relative == "." {
		return false
	}
	if relative == ".." || strings.HasPrefix(relative, "../") {
		return false
	}
	if pathpkg.IsAbs(relative) {
		return false
	}
	return true
}

// documentIDDisallowed matches runs of characters that are not URL-safe
// alphanumerics, each of which collapses to a single '-' in GenerateDocumentId.
var documentIDDisallowed = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// GenerateDocumentId derives a stable, URL-safe document id from a path
// relative to the folder root. Separators and non-alphanumeric runs collapse
// to a single '-'; leading and trailing '-' are trimmed. An empty result
// after trimming is reported as a validation error.
func GenerateDocumentId(relativePath string) (string, error) {
	collapsed := documentIDDisallowed.ReplaceAllString(relativePath, "-")
	collapsed = strings.Trim(collapsed, "-")
	if collapsed == "" {
		return "", errs.New(errs.KindValidation, "EMPTY_DOCUMENT_ID", fmt.Sprintf("path %q yields an empty document id", relativePath))
	}
	return collapsed, nil
}

// Fingerprint computes the Fingerprint for a single file at an absolute
// path, streaming its contents through the digest rather than buffering the
// whole file.
func Fingerprint(absolutePath, relativePath string) (*Fingerprint, error) {
	file, err := os.Open(absolutePath)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "OPEN_FAILED", err, fmt.Sprintf("unable to open %q", absolutePath))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "STAT_FAILED", err, fmt.Sprintf("unable to stat %q", absolutePath))
	}

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "READ_FAILED", err, fmt.Sprintf("unable to read %q", absolutePath))
	}

	return &Fingerprint{
		Path:    filepath.ToSlash(relativePath),
		Hash:    hex.EncodeToString(digest.Sum(nil)),
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
	}, nil
}

// WalkOptions configures Walk.
type WalkOptions struct {
	// Extensions restricts the walk to files with one of these extensions
	// (including the leading dot, e.g. ".md"). A nil or empty slice means no
	// extension restriction.
	Extensions []string
	// IgnorePatterns are additional user-provided glob patterns, layered on
	// top of internal/ignorepatterns.Defaults.
	IgnorePatterns []string
}

// Walk recursively descends root, emitting a Fingerprint for every file that
// passes the extension and ignore filters, sent on the returned channel.
// Walk stops and closes the channel (after delivering a final error, if any,
// via the second return value once the channel is drained) when ctx is
// canceled or the walk completes. Directories matched by an ignore pattern
// are not descended into, mirroring the teacher's traversal-pruning
// discipline for ignored content.
func Walk(ctx context.Context, root string, opts WalkOptions) (<-chan Fingerprint, <-chan error) {
	out := make(chan Fingerprint)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		matcher, err := ignorepatterns.New(opts.IgnorePatterns)
		if err != nil {
			errCh <- err
			return
		}

		allowed := make(map[string]bool, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			allowed[strings.ToLower(ext)] = true
		}

		walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if path == root {
				return nil
			}

			relative, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			relative = filepath.ToSlash(relative)

			if matcher.Ignore(relative, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			fp, fpErr := Fingerprint(path, relative)
			if fpErr != nil {
				return fpErr
			}

			select {
			case out <- *fp:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if walkErr != nil {
			errCh <- errs.Wrap(errs.KindTransientIO, "WALK_FAILED", walkErr, fmt.Sprintf("unable to walk %q", root))
		}
	}()

	return out, errCh
}

