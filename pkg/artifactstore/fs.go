package artifactstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teris-io/shortid"
)

const (
	artifactsDir = "artifacts"
	uploadsDir   = "uploads"
	metaSuffix   = ".meta.json"
)

var (
	refPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	filenamePattern = regexp.MustCompile(`^[^/\\]{1,255}$`)
)

// FSStore keeps artifacts on the local filesystem.
// Layout:
//
//	{base}/artifacts/{ref}            blob
//	{base}/artifacts/{ref}.meta.json  metadata
//	{base}/uploads/{expiry}/{jobid}/{id}/{filename}
type FSStore struct {
	base string
}

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	for _, dir := range []string{artifactsDir, uploadsDir} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return &FSStore{base: base}, nil
}

func newID() (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate artifact id: %w", err)
	}
	return id, nil
}

func (s *FSStore) blobPath(ref string) (string, error) {
	if !refPattern.MatchString(ref) {
		return "", fmt.Errorf("%w: invalid reference %q", ErrNotFound, ref)
	}
	return filepath.Join(s.base, artifactsDir, ref), nil
}

func (s *FSStore) Put(_ context.Context, data []byte, meta Metadata) (string, error) {
	ref, err := newID()
	if err != nil {
		return "", err
	}
	p, err := s.blobPath(ref)
	if err != nil {
		return "", err
	}

	meta.Size = int64(len(data))
	meta.Checksum = Hash(data)
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(p, data); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := writeFileAtomic(p+metaSuffix, raw); err != nil {
		_ = os.Remove(p)
		return "", fmt.Errorf("failed to write artifact metadata: %w", err)
	}
	return ref, nil
}

func (s *FSStore) Get(_ context.Context, ref string) ([]byte, Metadata, error) {
	p, err := s.blobPath(ref)
	if err != nil {
		return nil, Metadata{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, err
	}

	var meta Metadata
	if raw, err := os.ReadFile(p + metaSuffix); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return data, meta, nil
}

func (s *FSStore) Delete(_ context.Context, ref string) error {
	p, err := s.blobPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	if err := os.Remove(p + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact metadata: %w", err)
	}
	return nil
}

// PutTemp stores an upload whose reference embeds its expiry time and the
// job it belongs to.
func (s *FSStore) PutTemp(_ context.Context, data []byte, jobID, filename string, expiresAt time.Time) (string, error) {
	if !refPattern.MatchString(jobID) {
		return "", fmt.Errorf("invalid upload owner %q", jobID)
	}
	filename = strings.TrimSpace(filename)
	if !filenamePattern.MatchString(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid upload filename %q", filename)
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	ref := path.Join(uploadsDir, strconv.FormatInt(expiresAt.Unix(), 10), jobID, id, filename)
	p := filepath.Join(s.base, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, data); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return ref, nil
}

// parseTempRef splits uploads/{expiry}/{jobid}/{id}/{filename}.
func parseTempRef(ref string) (TempFile, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 5 || parts[0] != uploadsDir || !refPattern.MatchString(parts[2]) ||
		!refPattern.MatchString(parts[3]) || !filenamePattern.MatchString(parts[4]) ||
		parts[4] == "." || parts[4] == ".." {
		return TempFile{}, fmt.Errorf("%w: invalid upload reference %q", ErrNotFound, ref)
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return TempFile{}, fmt.Errorf("%w: invalid upload expiry %q", ErrNotFound, parts[1])
	}
	return TempFile{Ref: ref, JobID: parts[2], ExpiresAt: time.Unix(unix, 0)}, nil
}

func (s *FSStore) GetTemp(_ context.Context, ref string) ([]byte, TempFile, error) {
	tf, err := parseTempRef(ref)
	if err != nil {
		return nil, TempFile{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.base, filepath.FromSlash(ref)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, TempFile{}, ErrNotFound
	}
	if err != nil {
		return nil, TempFile{}, err
	}
	return data, tf, nil
}

func (s *FSStore) DeleteTemp(_ context.Context, ref string) error {
	if _, err := parseTempRef(ref); err != nil {
		return err
	}
	p := filepath.Join(s.base, filepath.FromSlash(ref))
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	// best effort: drop the now empty id, job and expiry directories
	for dir, i := filepath.Dir(p), 0; i < 3; dir, i = filepath.Dir(dir), i+1 {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (s *FSStore) ListTemp(ctx context.Context) ([]TempFile, error) {
	root := filepath.Join(s.base, uploadsDir)
	var out []TempFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.base, p)
		if err != nil {
			return err
		}
		ref := filepath.ToSlash(rel)
		tf, err := parseTempRef(ref)
		if err != nil {
			// not ours; leave it alone
			return nil
		}
		out = append(out, tf)
		return nil
	})
	return out, err
}

func writeFileAtomic(p string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}
