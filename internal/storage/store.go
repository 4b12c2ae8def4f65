package storage

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrUnsafeName is returned for names that would resolve outside the
	// store's root: absolute paths, ".." components, empty names.
	ErrUnsafeName = errors.New("name escapes the storage root")
	ErrNotRegular = errors.New("not a regular file")
)

// Store maps protocol filenames onto files under RootDir.
// The holder only ever reads through it; the requester only ever writes
// whole files through Stage / WriteStream.
type Store struct {
	RootDir string
}

func NewStore(rootDir string) *Store {
	if rootDir == "" {
		rootDir = "."
	}
	return &Store{
		RootDir: rootDir,
	}
}

// FullPath resolves key under the root, rejecting anything non-local.
func (s *Store) FullPath(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, key)
	}
	return filepath.Join(s.RootDir, rel), nil
}

// Has reports whether key names a regular file we are allowed to open.
func (s *Store) Has(key string) bool {
	_, r, err := s.ReadStream(key)
	if err != nil {
		return false
	}
	r.Close()
	return true
}

// ReadStream opens key for reading. The returned size comes from the open
// file itself, so it matches what the reader sees unless the file changes
// underneath us.
func (s *Store) ReadStream(key string) (int64, io.ReadCloser, error) {
	path, err := s.FullPath(key)
	if err != nil {
		return 0, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, nil, err
	}
	if !fi.Mode().IsRegular() {
		file.Close()
		return 0, nil, fmt.Errorf("%w: %s", ErrNotRegular, key)
	}
	return fi.Size(), file, nil
}

// Written describes a file that was committed to the store.
type Written struct {
	Path   string
	Size   int64
	Digest string // blake2b-256, hex
}

// Staged is a file being written. Nothing is visible under the final name
// until Commit; Abort leaves no trace.
type Staged struct {
	file  *os.File
	final string
	hash  hash.Hash
	n     int64
	done  bool
}

// Stage starts writing key. The data lands in a temp file next to the
// destination and is renamed into place on Commit, overwriting any file
// already there.
func (s *Store) Stage(key string) (*Staged, error) {
	path, err := s.FullPath(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".part-*")
	if err != nil {
		return nil, err
	}
	return &Staged{
		file:  file,
		final: path,
		hash:  newDigest(),
	}, nil
}

func (st *Staged) Write(p []byte) (int, error) {
	n, err := st.file.Write(p)
	st.hash.Write(p[:n])
	st.n += int64(n)
	return n, err
}

// Len is the number of bytes written so far.
func (st *Staged) Len() int64 { return st.n }

func (st *Staged) Commit() (Written, error) {
	if st.done {
		return Written{}, errors.New("staged file already finished")
	}
	st.done = true

	if err := st.file.Sync(); err != nil {
		st.discard()
		return Written{}, err
	}
	if err := st.file.Close(); err != nil {
		os.Remove(st.file.Name())
		return Written{}, err
	}
	if err := os.Chmod(st.file.Name(), 0644); err != nil {
		os.Remove(st.file.Name())
		return Written{}, err
	}
	if err := os.Rename(st.file.Name(), st.final); err != nil {
		os.Remove(st.file.Name())
		return Written{}, err
	}
	return Written{
		Path:   st.final,
		Size:   st.n,
		Digest: encodeDigest(st.hash),
	}, nil
}

// Abort drops the staged data. Safe to call after Commit.
func (st *Staged) Abort() error {
	if st.done {
		return nil
	}
	st.done = true
	return st.discard()
}

func (st *Staged) discard() error {
	st.file.Close()
	return os.Remove(st.file.Name())
}

// WriteStream reads r to EOF and commits it under key in one step.
func (s *Store) WriteStream(key string, r io.Reader) (Written, error) {
	st, err := s.Stage(key)
	if err != nil {
		return Written{}, err
	}
	if _, err := io.Copy(st, r); err != nil {
		st.Abort()
		return Written{}, err
	}
	return st.Commit()
}
