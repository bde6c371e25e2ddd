package snapcore

import (
	"debug/elf"
	"fmt"
	"io"
	"sync"
)

// ObjectImage is a mapped executable or shared-object image: an ordered
// list of loadable Segments, a Notes list decoded in full when the image
// is loaded, and a
// section index for symbol/debug-info lookups. An ObjectImage appears at
// most once in the loaded set of a Task (enforced by the image cache).
type ObjectImage struct {
	Path string
	Arch string // amd64, 386, arm, arm64, ... (empty if unknown)

	reader   ByteReader
	segments []*Segment
	notes    []Note

	sections   map[string]sectionInfo
	secReadMu  sync.Mutex
	secReaders map[string]ByteReader
}

type sectionInfo struct {
	off        int64
	size       int64
	compressed bool
	// elfSection is set only for a compressed section loaded from a real
	// ELF file; debug/elf already understands both the SHF_COMPRESSED
	// Chdr form and the legacy ".zdebug_*"/"ZLIB" alias form, so
	// decompression is delegated to it rather than reimplemented here.
	elfSection *elf.Section
}

// Reader returns the ByteReader backing the whole image.
func (o *ObjectImage) Reader() ByteReader { return o.reader }

// Segments returns the loadable segments, ordered by Vaddr.
func (o *ObjectImage) Segments() []*Segment { return o.segments }

// Notes returns the object's annotation records. The notes are decoded
// once, on first PT_NOTE walk during construction, and then just
// returned; there is no further decoding cost per call.
func (o *ObjectImage) Notes() []Note { return o.notes }

// FindSegment returns the segment containing addr, or nil.
func (o *ObjectImage) FindSegment(addr Address) *Segment {
	return FindSegment(o.segments, addr)
}

// SectionReader returns a ByteReader over the uncompressed contents of
// whichever of primaryName (".debug_info") or its compressed-alias
// form (".zdebug_info") exists in the image. Decompression is entirely
// this method's concern; callers always see a uniform ByteReader over
// plain bytes.
func (o *ObjectImage) SectionReader(primaryName, compressedAlias string) (ByteReader, bool) {
	o.secReadMu.Lock()
	defer o.secReadMu.Unlock()
	if o.secReaders == nil {
		o.secReaders = map[string]ByteReader{}
	}
	if r, ok := o.secReaders[primaryName]; ok {
		return r, true
	}

	if si, ok := o.sections[primaryName]; ok {
		var r ByteReader
		if si.compressed {
			dr, err := o.decompressSection(si)
			if err != nil {
				return nil, false
			}
			r = dr
		} else {
			r = View(o.reader, si.off, si.size)
		}
		o.secReaders[primaryName] = r
		return r, true
	}
	if compressedAlias != "" {
		if si, ok := o.sections[compressedAlias]; ok {
			dr, err := o.decompressSection(si)
			if err != nil {
				return nil, false
			}
			o.secReaders[primaryName] = dr
			return dr, true
		}
	}
	return nil, false
}

func (o *ObjectImage) decompressSection(si sectionInfo) (ByteReader, error) {
	if si.elfSection == nil {
		return nil, fmt.Errorf("snapcore: section marked compressed but has no ELF section header")
	}
	out, err := io.ReadAll(si.elfSection.Open())
	if err != nil {
		return nil, fmt.Errorf("snapcore: decompressing %s: %w", si.elfSection.Name, err)
	}
	return NewBufferReader(out), nil
}

// ImageCache deduplicates ObjectImages by path across an address space's
// set of loaded objects (and across Tasks, if the caller shares one
// cache): a path-keyed cache generalizing a per-process file map to work
// across an entire machine snapshot. Entries, including failed loads, are
// kept for the cache's lifetime; there is no reference count and no
// eviction.
type ImageCache struct {
	mu     sync.Mutex
	images map[string]*cachedImage
}

type cachedImage struct {
	img *ObjectImage
	err error
}

func NewImageCache() *ImageCache {
	return &ImageCache{images: map[string]*cachedImage{}}
}

// Load returns the ObjectImage for path, loading and caching it on first
// request. Concurrent callers observe the same *ObjectImage.
func (c *ImageCache) Load(path string, loader func(string) (*ObjectImage, error)) (*ObjectImage, error) {
	c.mu.Lock()
	if ci, ok := c.images[path]; ok {
		c.mu.Unlock()
		return ci.img, ci.err
	}
	c.mu.Unlock()

	img, err := loader(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ci, ok := c.images[path]; ok {
		// Another goroutine raced us to load the same path; keep
		// whichever result was cached first.
		return ci.img, ci.err
	}
	c.images[path] = &cachedImage{img: img, err: err}
	return img, err
}
