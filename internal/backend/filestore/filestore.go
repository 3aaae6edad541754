// Package filestore is a cold tier keeping one zstd-compressed file per key
// in a directory.
package filestore

import (
	"context"
	"encoding/base64"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"go.chromium.org/luci/common/errors"

	"github.com/alaamer12/true-storage/internal/storage"
)

const ext = ".bin"

// Shared encoder and decoder. Only EncodeAll and DecodeAll are used, which
// are safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	if encoder, err = zstd.NewWriter(nil); err != nil {
		panic(err) // this is impossible
	}
	if decoder, err = zstd.NewReader(nil); err != nil {
		panic(err) // this is impossible
	}
}

// Store implements storage.Backend on a directory.
//
// Writes go to a temporary file that is renamed into place, so a reader sees
// either the old or the new value, never a torn one.
type Store struct {
	dir string
}

var _ storage.ClosableBackend = (*Store)(nil)

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "creating %q", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir is the directory holding the files.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+ext)
}

// Store implements storage.Backend.
func (s *Store) Store(ctx context.Context, key string, value []byte) (err error) {
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return storage.Mark(storage.ErrStorage, err, "storing %q", key)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
			err = storage.Mark(storage.ErrStorage, err, "storing %q", key)
		}
	}()

	if _, err = f.Write(encoder.EncodeAll(value, nil)); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(key))
}

// Retrieve implements storage.Backend.
func (s *Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	blob, err := os.ReadFile(s.path(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, storage.Reason(storage.ErrNotFound, "key %q", key)
	case err != nil:
		return nil, storage.Mark(storage.ErrStorage, err, "retrieving %q", key)
	}
	value, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "decompressing %q", key)
	}
	return value, nil
}

// Delete implements storage.Backend. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.Mark(storage.ErrStorage, err, "deleting %q", key)
	}
	return nil
}

// Clear implements storage.Backend. Files the store did not write are left
// alone.
func (s *Store) Clear(ctx context.Context) error {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return storage.Mark(storage.ErrStorage, err, "listing %q", s.dir)
	}
	var merr errors.MultiError
	for _, ent := range ents {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ext) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, ent.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			merr = append(merr, err)
		}
	}
	return storage.Mark(storage.ErrStorage, merr.AsError(), "clearing %q", s.dir)
}

// Keys returns the keys currently stored, in no particular order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storage.Mark(storage.ErrStorage, err, "listing %q", s.dir)
	}
	var out []string
	for _, ent := range ents {
		name, ok := strings.CutSuffix(ent.Name(), ext)
		if ent.IsDir() || !ok {
			continue
		}
		key, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			continue
		}
		out = append(out, string(key))
	}
	return out, nil
}

// Close implements io.Closer. The store holds no resources.
func (s *Store) Close() error {
	return nil
}
