package pfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrInvalidPath   = errors.New("path escapes the file system root")
	ErrUnknownHandle = errors.New("unknown file handle")
)

// Handle identifies a file opened through a FileSystem.
type Handle uint64

type openFile struct {
	path string
	file *PartialFile
}

// FileSystem confines partial files under a root directory and hands out handles to them.
// Opening the same file twice returns the same handle.
type FileSystem struct {
	root   string
	filler Filler

	mu      sync.Mutex
	handles map[Handle]*openFile
	paths   map[string]Handle
	next    Handle
}

func NewFileSystem(root string, filler Filler) (*FileSystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &FileSystem{
		root:    resolved,
		filler:  filler,
		handles: make(map[Handle]*openFile),
		paths:   make(map[string]Handle),
		next:    1,
	}, nil
}

func (fs *FileSystem) Root() string {
	return fs.root
}

// Resolve returns the canonical path of name, a slash separated path relative to the root.
func (fs *FileSystem) Resolve(name string) (string, error) {
	name = filepath.FromSlash(name)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	joined := filepath.Join(fs.root, name)

	// The file may not exist yet, its directory must.
	dir, err := filepath.EvalSymlinks(filepath.Dir(joined))
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(dir, filepath.Base(joined))
	if target, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = target
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if !fs.contains(resolved) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return resolved, nil
}

func (fs *FileSystem) contains(path string) bool {
	rel, err := filepath.Rel(fs.root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Create creates a partial file of the given size, creating parent directories.
func (fs *FileSystem) Create(name string, size uint64) (Handle, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if err := os.MkdirAll(filepath.Join(fs.root, filepath.Dir(local)), 0755); err != nil {
		return 0, err
	}
	path, err := fs.Resolve(name)
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h, ok := fs.paths[path]; ok {
		return 0, fmt.Errorf("%s is open as handle %d", name, h)
	}
	pf, err := Create(path, size, fs.filler)
	if err != nil {
		return 0, err
	}
	return fs.register(path, pf), nil
}

// Open opens an existing file, or returns the handle it is already open with.
func (fs *FileSystem) Open(name string) (Handle, error) {
	path, err := fs.Resolve(name)
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h, ok := fs.paths[path]; ok {
		return h, nil
	}
	pf, err := Open(path, fs.filler)
	if err != nil {
		return 0, err
	}
	return fs.register(path, pf), nil
}

func (fs *FileSystem) register(path string, pf *PartialFile) Handle {
	h := fs.next
	fs.next++
	fs.handles[h] = &openFile{path: path, file: pf}
	fs.paths[path] = h
	return h
}

// File returns the file behind a handle.
func (fs *FileSystem) File(h Handle) (*PartialFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	of, ok := fs.handles[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return of.file, nil
}

// Len returns the number of open handles.
func (fs *FileSystem) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.handles)
}

// CloseHandle closes the file and forgets the handle.
func (fs *FileSystem) CloseHandle(h Handle) error {
	fs.mu.Lock()
	of, ok := fs.handles[h]
	if ok {
		delete(fs.handles, h)
		delete(fs.paths, of.path)
	}
	fs.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return of.file.Close()
}

// Close closes every open file.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	handles := fs.handles
	fs.handles = make(map[Handle]*openFile)
	clear(fs.paths)
	fs.mu.Unlock()

	var errs []error
	for _, of := range handles {
		errs = append(errs, of.file.Close())
	}
	return errors.Join(errs...)
}
