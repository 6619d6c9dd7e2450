// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

var (
	// ErrContextUnreadable is the sentinel error wrapped by ContextUnreadableError.
	ErrContextUnreadable = errors.New("build context unreadable")

	// ErrInvalidContextRoot is returned when a context root is not a directory.
	ErrInvalidContextRoot = errors.New("invalid build context root")
)

type (
	// Entry is one normalized member of a build context: a regular file or a
	// symlink, identified by its slash-separated path relative to the context
	// root. Volatile metadata (mtime, owner, group) is stripped at load time;
	// mode bits and symlink targets are kept because they change build output.
	Entry struct {
		// Path is the slash-separated path relative to the context root.
		Path string
		// Mode holds the permission bits of the entry (symlinks report 0777
		// on most systems and are normalized to 0).
		Mode fs.FileMode
		// Symlink reports whether the entry is a symbolic link.
		Symlink bool
		// Target is the symlink target, empty for regular files.
		Target string
		// Digest is the content digest of a regular file, empty for symlinks.
		Digest digest.Digest
	}

	// Context is a reproducible view of a build context file tree. Entries are
	// sorted by byte order of their relative path, so two contexts with
	// identical post-exclusion content always serialize identically regardless
	// of filesystem iteration order.
	Context struct {
		// Root is the absolute path the context was loaded from. It never
		// participates in fingerprinting.
		Root string
		// Entries are the included files and symlinks in sorted path order.
		Entries []Entry
	}

	// ContextUnreadableError is returned when a file inside the build context
	// cannot be read or traversed.
	ContextUnreadableError struct {
		Path string
		Err  error
	}
)

// Error implements the error interface.
func (e *ContextUnreadableError) Error() string {
	return fmt.Sprintf("build context unreadable at %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrContextUnreadable so callers can use errors.Is for
// programmatic detection. The underlying I/O error stays available via Err.
func (e *ContextUnreadableError) Unwrap() error { return ErrContextUnreadable }

// LoadContext walks the directory at root and produces a normalized Context.
// Ignore patterns are applied before anything is hashed: a pattern excludes an
// entry when it matches the relative path or any of its parent directories
// (filepath.Match syntax, matched against slash-separated paths).
//
// Only regular files and symlinks become entries. Directories exist implicitly
// through the paths of what they contain, which mirrors how the build daemon
// sees a streamed context.
func LoadContext(root string, ignore []string) (*Context, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ContextUnreadableError{Path: root, Err: err}
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, &ContextUnreadableError{Path: absRoot, Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidContextRoot, absRoot)
	}

	var entries []Entry
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &ContextUnreadableError{Path: path, Err: err}
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return &ContextUnreadableError{Path: path, Err: relErr}
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if matchesIgnore(rel, ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		entry, entryErr := loadEntry(path, rel, d)
		if entryErr != nil {
			return entryErr
		}
		entries = append(entries, entry)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	// Total, locale-independent byte order. Go string comparison is bytewise,
	// so this holds on every platform.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return &Context{Root: absRoot, Entries: entries}, nil
}

// loadEntry normalizes a single walked file into an Entry.
func loadEntry(path, rel string, d fs.DirEntry) (Entry, error) {
	info, err := d.Info()
	if err != nil {
		return Entry{}, &ContextUnreadableError{Path: path, Err: err}
	}

	if info.Mode().Type() == fs.ModeSymlink {
		target, err := os.Readlink(path)
		if err != nil {
			return Entry{}, &ContextUnreadableError{Path: path, Err: err}
		}
		return Entry{Path: rel, Symlink: true, Target: filepath.ToSlash(target)}, nil
	}

	if !info.Mode().IsRegular() {
		// Sockets, devices and FIFOs cannot be streamed to a build daemon.
		return Entry{}, &ContextUnreadableError{
			Path: path,
			Err:  fmt.Errorf("unsupported file type %s", info.Mode().Type()),
		}
	}

	dgst, err := digestFile(path)
	if err != nil {
		return Entry{}, err
	}

	return Entry{Path: rel, Mode: info.Mode().Perm(), Digest: dgst}, nil
}

// digestFile streams the file content through the canonical hash algorithm.
func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &ContextUnreadableError{Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck // read-only handle

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", &ContextUnreadableError{Path: path, Err: err}
	}
	return digester.Digest(), nil
}

// matchesIgnore reports whether rel (a slash-separated relative path) matches
// any of the ignore patterns, either directly or through a parent directory.
func matchesIgnore(rel string, ignore []string) bool {
	for _, pattern := range ignore {
		pattern = strings.TrimSuffix(filepath.ToSlash(pattern), "/")
		if pattern == "" {
			continue
		}
		candidate := rel
		for candidate != "" {
			if ok, err := filepath.Match(pattern, candidate); err == nil && ok {
				return true
			}
			// Also match against the basename so patterns like "*.log"
			// exclude files at any depth.
			if ok, err := filepath.Match(pattern, lastSegment(candidate)); err == nil && ok && candidate == rel {
				return true
			}
			candidate = parentPath(candidate)
		}
	}
	return false
}

func parentPath(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

func lastSegment(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
