package kvstore

import (
	"os"
	"path/filepath"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/logger"
)

// File is a Store persisted as a flat YAML mapping. The whole document is
// rewritten on every mutation through a temp file and a rename, so a crash
// leaves either the old or the new document on disk.
//
// It is safe for concurrent use within one process.
type File struct {
	path string
	log  *logger.Logger

	mu   sync.Mutex
	data map[string]string
}

// OpenFile loads the document at path, creating parent directories as
// needed. A missing file is an empty store. A corrupt file is logged and
// treated as empty; it is overwritten by the next write.
func OpenFile(path string, log *logger.Logger) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.Wrap(errs.ErrKindPermissionDenied, "failed to create storage directory", err)
	}

	f := &File{path: path, log: logger.OrNop(log), data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return f, nil
	case err != nil:
		return nil, errs.Wrap(errs.ErrKindPermissionDenied, "failed to read storage file", err)
	}

	if err := yaml.Unmarshal(raw, &f.data); err != nil {
		f.log.WarnWith("storage file is corrupt, starting empty", err, map[string]interface{}{"path": path})
		f.data = make(map[string]string)
	}
	if f.data == nil {
		f.data = make(map[string]string)
	}
	return f, nil
}

// Path returns the file backing the store.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.data[key]
	f.data[key] = value
	if err := f.flush(); err != nil {
		if existed {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.data[key]
	if !existed {
		return nil
	}
	delete(f.data, key)
	if err := f.flush(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

// flush writes the document. Callers hold f.mu.
func (f *File) flush() error {
	raw, err := yaml.Marshal(f.data)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to encode storage file", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".openbucket-*.tmp")
	if err != nil {
		return errs.Wrap(errs.ErrKindPermissionDenied, "failed to create temp storage file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to write storage file", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrKindPermissionDenied, "failed to chmod storage file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to close storage file", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to replace storage file", err)
	}
	return nil
}
