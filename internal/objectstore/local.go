package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SidecarSuffix marks a JSON file holding user metadata for its sibling.
const SidecarSuffix = ".metadata.json"

// LocalStore serves objects from a directory. Keys are slash-separated
// paths relative to Root.
type LocalStore struct {
	Root string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore returns a store rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

// Path returns the filesystem path of key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.Root, filepath.FromSlash(key))
}

// HeadMetadata stats the file and reads its optional sidecar.
func (s *LocalStore) HeadMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return ObjectMetadata{}, err
	}

	p := s.Path(key)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return ObjectMetadata{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		return ObjectMetadata{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, key)
	}

	contentType, err := detectContentType(p)
	if err != nil {
		return ObjectMetadata{}, err
	}
	meta, err := readSidecar(p + SidecarSuffix)
	if err != nil {
		return ObjectMetadata{}, err
	}

	return ObjectMetadata{
		ContentType:  contentType,
		LastModified: info.ModTime(),
		Metadata:     meta,
	}, nil
}

// ListObjects globs under root (relative to Root) with doublestar patterns.
// Sidecar files are never listed.
func (s *LocalStore) ListObjects(ctx context.Context, root string, patterns []string) ([]string, error) {
	if root == "" {
		root = "."
	}
	fsys := os.DirFS(s.Root)

	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := path.Join(root, pattern)
		if !doublestar.ValidatePattern(full) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
		matches, err := doublestar.Glob(fsys, full, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if strings.HasSuffix(m, SidecarSuffix) {
				continue
			}
			seen[m] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// detectContentType uses the extension first and sniffs content otherwise.
func detectContentType(p string) (string, error) {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return mediaType(ct), nil
	}

	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return mediaType(http.DetectContentType(buf[:n])), nil
}

func readSidecar(p string) (map[string]string, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata sidecar: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse metadata sidecar %s: %w", p, err)
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			meta[k] = s
		} else {
			meta[k] = fmt.Sprint(v)
		}
	}
	return meta, nil
}
