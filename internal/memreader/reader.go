// Package memreader implements the snapshot memory reader: the composite
// reader that answers "read N bytes at virtual address V" for a
// snapshot-backed task by consulting the snapshot's own segments first,
// then the loaded object set, filling any remainder with zeros. It is
// addressed by virtual address through Read and does not implement
// snapcore.ByteReader.
//
// The algorithm is a direct translation of the reference implementation's
// CoreReader::read (original_source/dead.cc): read real bytes from
// whichever segment covers the cursor and track how much of that
// segment's memory-size tail is still owed as zero-fill. The loaded
// object set is consulted whenever the snapshot does not cover the
// cursor or still owes zero-fill there; real bytes a loaded object
// supplies for that stretch take the place of the snapshot's zeros.
package memreader

import (
	"fmt"

	"github.com/snapstack/pstack/internal/snapcore"
)

// SegmentFinder resolves a virtual address against a task's loaded-object
// set. It is the Reader's non-owning back-reference to the owning Task:
// the Task owns the Reader, so the Reader may only borrow it through a
// plain function value, never hold a strong reference back.
type SegmentFinder func(addr snapcore.Address) (loadBias snapcore.Address, obj *snapcore.ObjectImage, seg *snapcore.Segment)

// Reader is the composite snapshot memory reader.
type Reader struct {
	snapshot    *snapcore.ObjectImage // nil for a live task with no snapshot
	findSegment SegmentFinder
}

// New builds a Reader over an optional snapshot object and a callback that
// resolves addresses against the owning Task's loaded-object set.
func New(snapshot *snapcore.ObjectImage, findSegment SegmentFinder) *Reader {
	return &Reader{snapshot: snapshot, findSegment: findSegment}
}

// Read writes up to len(dst) bytes read from virtual address remote into
// dst, returning the count actually written. A count smaller than
// len(dst) means the address range ran off the end of every available
// source (snapshot segments, loaded-object segments, and zero-fill
// tails); the caller decides whether that's fatal (the unwinder typically
// treats it as end-of-stack). A truncated backing file is reported as an
// error, never as a short count.
func (r *Reader) Read(remote snapcore.Address, dst []byte) (int, error) {
	size := int64(len(dst))
	pos := int64(0)

	for size > 0 {
		var zeroes int64

		if r.snapshot != nil {
			if seg := r.snapshot.FindSegment(remote); seg != nil {
				rv, z, err := readSegmentChunk(r.snapshot.Reader(), seg, remote, dst[pos:pos+size], size)
				if err != nil {
					return int(pos), fmt.Errorf("memreader: snapshot truncated: %w", err)
				}
				remote = remote.Add(rv)
				pos += rv
				size -= rv
				zeroes = z
				if rv != 0 && zeroes == 0 {
					continue
				}
			}
		}

		var haveObjectSegment bool
		if r.findSegment != nil {
			loadBias, obj, seg := r.findSegment(remote)
			if seg != nil {
				haveObjectSegment = true
				rv, z, err := readSegmentChunk(obj.Reader(), seg, snapcore.Address(remote.Sub(loadBias)) /* local addr */, dst[pos:pos+size], size)
				if err != nil {
					return int(pos), fmt.Errorf("memreader: loaded object %s truncated: %w", obj.Path, err)
				}
				if zeroes > rv {
					zeroes -= rv
				} else {
					zeroes = 0
				}
				if z > zeroes {
					zeroes = z
				}
				remote = remote.Add(rv)
				pos += rv
				size -= rv
			}
		}

		if zeroes > size {
			zeroes = size
		}
		for i := int64(0); i < zeroes; i++ {
			dst[pos+i] = 0
		}
		remote = remote.Add(zeroes)
		pos += zeroes
		size -= zeroes

		if !haveObjectSegment && zeroes == 0 {
			break
		}
	}

	return int(pos), nil
}

// readSegmentChunk reads the real-data portion of seg covering addr into
// dst (up to remaining bytes), then reports how many further bytes,
// starting right after what was just read, fall in seg's zero-fill tail.
// addr is already local to the object owning seg (bias already
// subtracted by the caller for loaded objects; the snapshot has bias 0).
func readSegmentChunk(r snapcore.ByteReader, seg *snapcore.Segment, addr snapcore.Address, dst []byte, remaining int64) (rv int64, zeroes int64, err error) {
	off := addr.Sub(seg.Vaddr)
	if off < seg.FileSize {
		n := seg.FileSize - off
		if n > remaining {
			n = remaining
		}
		if err := snapcore.ReadFull(r, dst[:n], seg.FileOff+off); err != nil {
			return 0, 0, fmt.Errorf("short read at file offset %#x: %w", seg.FileOff+off, err)
		}
		rv = n
		off += rv
		remaining -= rv
	}
	if remaining != 0 && off < seg.MemSize {
		zc := seg.MemSize - off
		if zc > remaining {
			zc = remaining
		}
		zeroes = zc
	}
	return rv, zeroes, nil
}
