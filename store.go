package cache

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	entryExt           = ".entry"
	tempPrefix         = ".tmp-"
	entryFormatVersion = 1
)

// entryHeader precedes the payload in every entry file. It is small enough to be
// decoded on its own during a scan, without reading the payload.
type entryHeader struct {
	Version int    `msgpack:"v"`
	Key     string `msgpack:"key"`
	Size    int64  `msgpack:"size"`
	Sum     uint64 `msgpack:"sum"`
}

// ScannedEntry describes a persisted entry found by FileStore.Scan.
type ScannedEntry struct {
	Key     string
	Size    int64
	ModTime time.Time
	Path    string
}

// FileStore keeps one file per key inside a single directory of a billy.Filesystem.
// File names are derived from the key hash, so arbitrary keys never escape the
// directory. Writes go to a temporary file that is renamed into place.
type FileStore struct {
	fs  billy.Filesystem
	dir string

	// osRoot is the OS path fs is rooted at, when known. It lets Touch work on
	// OS-backed filesystems that do not implement billy.Change.
	osRoot string
}

func NewFileStore(fs billy.Filesystem, dir string) *FileStore {
	return &FileStore{
		fs:  fs,
		dir: dir,
	}
}

func (s *FileStore) path(key string) string {
	return s.fs.Join(s.dir, entryFileName(key))
}

func entryFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + entryExt
}

// Write persists data for key. The previous entry, if any, stays readable until
// the new one has been completely written.
func (s *FileStore) Write(key, data string) error {
	target := s.path(key)

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: s.dir, Err: err}
	}

	tmp, err := s.fs.TempFile(s.dir, tempPrefix)
	if err != nil {
		return &IOError{Op: "write", Key: key, Path: target, Err: err}
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	err = encodeEntry(w, key, data)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = syncFile(tmp)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmpName)
		return &IOError{Op: "write", Key: key, Path: target, Err: err}
	}

	if err := s.fs.Rename(tmpName, target); err != nil {
		_ = s.fs.Remove(tmpName)
		return &IOError{Op: "rename", Key: key, Path: target, Err: err}
	}

	return nil
}

// Read returns the payload stored for key, ErrNotFound if there is none and an
// error wrapping ErrCorrupted if the file does not validate.
func (s *FileStore) Read(key string) (string, error) {
	path := s.path(key)

	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", &IOError{Op: "read", Key: key, Path: path, Err: err}
	}
	defer f.Close()

	dec := msgpack.NewDecoder(bufio.NewReader(f))

	header, err := decodeHeader(dec)
	if err != nil {
		return "", err
	}
	// Only a hash collision gets here.
	if header.Key != key {
		return "", ErrNotFound
	}

	data, err := dec.DecodeString()
	if err != nil {
		return "", fmt.Errorf("%w: payload of %q: %v", ErrCorrupted, key, err)
	}
	if int64(len(data)) != header.Size || xxhash.Sum64String(data) != header.Sum {
		return "", fmt.Errorf("%w: checksum mismatch for %q", ErrCorrupted, key)
	}

	return data, nil
}

// Delete removes the entry for key and reports whether there was one.
func (s *FileStore) Delete(key string) (bool, error) {
	path := s.path(key)

	err := s.fs.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &IOError{Op: "delete", Key: key, Path: path, Err: err}
}

// Touch sets the modification time of the entry for key. It is a no-op on
// filesystems that support neither billy.Change nor direct OS access.
func (s *FileStore) Touch(key string, t time.Time) error {
	if change, ok := s.fs.(billy.Change); ok {
		return change.Chtimes(s.path(key), t, t)
	}
	if s.osRoot != "" {
		return os.Chtimes(filepath.Join(s.osRoot, s.path(key)), t, t)
	}
	return nil
}

// Scan lists the directory and returns a sequence that decodes entry headers one
// at a time. A missing directory is an empty store. Listing failures are returned
// directly; a bad entry is yielded with its path and an error, and the sequence
// continues with the next file.
func (s *FileStore) Scan() (iter.Seq2[ScannedEntry, error], error) {
	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return func(func(ScannedEntry, error) bool) {}, nil
		}
		return nil, &IOError{Op: "scan", Path: s.dir, Err: err}
	}

	return func(yield func(ScannedEntry, error) bool) {
		for _, info := range infos {
			name := info.Name()
			if info.IsDir() || !strings.HasSuffix(name, entryExt) {
				continue
			}

			path := s.fs.Join(s.dir, name)
			header, err := s.readHeader(path)
			if err == nil && entryFileName(header.Key) != name {
				err = fmt.Errorf("%w: %s holds key %q", ErrCorrupted, name, header.Key)
			}
			if err != nil {
				if !yield(ScannedEntry{Path: path}, err) {
					return
				}
				continue
			}

			entry := ScannedEntry{
				Key:     header.Key,
				Size:    header.Size,
				ModTime: info.ModTime(),
				Path:    path,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}, nil
}

func (s *FileStore) readHeader(path string) (*entryHeader, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	return decodeHeader(msgpack.NewDecoder(bufio.NewReader(f)))
}

// CleanupTemp removes temporary files left behind by interrupted writes and
// returns how many were removed.
func (s *FileStore) CleanupTemp() int {
	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		if err := s.fs.Remove(s.fs.Join(s.dir, info.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// RemoveAll deletes the store directory with everything in it.
func (s *FileStore) RemoveAll() error {
	if err := util.RemoveAll(s.fs, s.dir); err != nil {
		return &IOError{Op: "clear", Path: s.dir, Err: err}
	}
	return nil
}

func encodeEntry(w io.Writer, key, data string) error {
	enc := msgpack.NewEncoder(w)
	err := enc.Encode(&entryHeader{
		Version: entryFormatVersion,
		Key:     key,
		Size:    int64(len(data)),
		Sum:     xxhash.Sum64String(data),
	})
	if err != nil {
		return err
	}
	return enc.EncodeString(data)
}

func decodeHeader(dec *msgpack.Decoder) (*entryHeader, error) {
	var header entryHeader
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupted, err)
	}
	if header.Version != entryFormatVersion {
		return nil, fmt.Errorf("%w: unsupported entry version %d", ErrCorrupted, header.Version)
	}
	if header.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrCorrupted, header.Size)
	}
	return &header, nil
}

func syncFile(f billy.File) error {
	if syncer, ok := f.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}
