// Package memfile implements a file held in memory.
package memfile

import (
	"errors"
	"io"
	"sync"
)

var errNegativeOffset = errors.New("memfile: negative offset")

// File is an in-memory file with the random-access methods of *os.File.
// It is safe for concurrent use.
type File struct {
	mtx     sync.Mutex
	content []byte
	syncs   int

	// failWrite and failSync are returned by WriteAt and Sync when set.
	failWrite error
	failSync  error
}

func New() *File {
	return &File{}
}

// FromBytes returns a File holding a copy of b.
func FromBytes(b []byte) *File {
	return &File{content: append([]byte(nil), b...)}
}

// Bytes returns a copy of the file contents.
func (f *File) Bytes() []byte {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]byte(nil), f.content...)
}

func (f *File) Len() int64 {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return int64(len(f.content))
}

// Syncs returns how many times Sync succeeded.
func (f *File) Syncs() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.syncs
}

// FailWrites makes every following WriteAt fail with err; nil restores them.
func (f *File) FailWrites(err error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.failWrite = err
}

// FailSyncs makes every following Sync fail with err; nil restores them.
func (f *File) FailSyncs(err error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.failSync = err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if off < 0 {
		return 0, errNegativeOffset
	}
	if off >= int64(len(f.content)) {
		return 0, io.EOF
	}
	n := copy(p, f.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off, growing the file with zeros if off is past its end.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failWrite != nil {
		return 0, f.failWrite
	}
	if off < 0 {
		return 0, errNegativeOffset
	}
	if end := off + int64(len(p)); end > int64(len(f.content)) {
		if end > int64(cap(f.content)) {
			grown := make([]byte, len(f.content), max(end, 2*int64(cap(f.content))))
			copy(grown, f.content)
			f.content = grown
		}
		f.content = f.content[:end]
	}
	return copy(f.content[off:], p), nil
}

func (f *File) Sync() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failSync != nil {
		return f.failSync
	}
	f.syncs++
	return nil
}

// Truncate changes the size of the file, zero-filling any growth.
func (f *File) Truncate(size int64) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if size < 0 {
		return errNegativeOffset
	}
	if size <= int64(len(f.content)) {
		clear(f.content[size:])
		f.content = f.content[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.content)
	f.content = grown
	return nil
}
