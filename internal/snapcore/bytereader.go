package snapcore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ByteReader is a uniform random-access byte source. Backends are a mapped
// file (FileReader), an in-memory buffer (BufferReader) and sub-views of
// either; the composite snapshot reader in package memreader is not one of
// them, as it reads by virtual address through its own Read method. All
// offsets are relative to the backend's own origin, not to
// any virtual address; callers translate virtual addresses to (backend,
// offset) pairs before calling ReadAt.
type ByteReader interface {
	// ReadAt reads len(p) bytes starting at offset off. It returns a short
	// count only at end of the backend; a read that fails for any other
	// reason returns an error.
	ReadAt(p []byte, off int64) (n int, err error)
	// Size returns the total number of bytes available from offset 0.
	Size() int64
}

// View returns a ByteReader over the n bytes of r starting at off.
func View(r ByteReader, off, n int64) ByteReader {
	return &subReader{r: r, base: off, size: n}
}

type subReader struct {
	r    ByteReader
	base int64
	size int64
}

func (s *subReader) Size() int64 { return s.size }

func (s *subReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > s.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > s.size {
		p = p[:s.size-off]
	}
	n, err := s.r.ReadAt(p, s.base+off)
	return n, err
}

// FileReader is a ByteReader backed by an *os.File opened for a mapped
// object image (the executable, a loaded shared object, or the snapshot
// itself).
type FileReader struct {
	f    *os.File
	size int64
}

// NewFileReader wraps f as a ByteReader. f must remain open for the
// lifetime of the reader; closing it is the caller's responsibility once
// every ObjectImage built on top is no longer needed.
func NewFileReader(f *os.File) (*FileReader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("snapcore: stat %s: %w", f.Name(), err)
	}
	return &FileReader{f: f, size: st.Size()}, nil
}

func (r *FileReader) Size() int64 { return r.size }

func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}

func (r *FileReader) Name() string { return r.f.Name() }

// BufferReader is a ByteReader over an in-memory buffer, used for note
// payloads and decompressed section contents.
type BufferReader struct {
	b []byte
}

func NewBufferReader(b []byte) *BufferReader {
	return &BufferReader{b: b}
}

func (r *BufferReader) Size() int64 { return int64(len(r.b)) }

func (r *BufferReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *BufferReader) Bytes() []byte { return r.b }

// ReadFull reads exactly len(p) bytes at off from r. A short read is
// reported as io.ErrUnexpectedEOF, the "snapshot truncated" condition
// callers one layer up surface as fatal per spec.
func ReadFull(r ByteReader, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadUint64 reads a little/big-endian uint64 at off, per order.
func ReadUint64(r ByteReader, off int64, order binary.ByteOrder) (uint64, error) {
	var buf [8]byte
	if err := ReadFull(r, buf[:], off); err != nil {
		return 0, err
	}
	return order.Uint64(buf[:]), nil
}

// ReadUint32 reads a little/big-endian uint32 at off, per order.
func ReadUint32(r ByteReader, off int64, order binary.ByteOrder) (uint32, error) {
	var buf [4]byte
	if err := ReadFull(r, buf[:], off); err != nil {
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

// ReadCString reads a NUL-terminated string starting at off.
func ReadCString(r ByteReader, off int64) (string, error) {
	var buf [64]byte
	var out []byte
	for {
		n, err := r.ReadAt(buf[:], off)
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				return string(out), nil
			}
			out = append(out, buf[i])
		}
		if err != nil {
			if len(out) > 0 {
				return string(out), nil
			}
			return "", err
		}
		off += int64(n)
	}
}
