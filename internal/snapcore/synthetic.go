package snapcore

// NewSyntheticImage builds an ObjectImage directly from an already-open
// reader and segment list, bypassing ELF parsing entirely. It exists for
// callers assembling an image whose bytes don't come from a file on
// disk -- test fixtures driving the composite memory reader or the
// frame binder without a real core file, chiefly -- and carries no
// notes or sections; a caller needing those can add them with
// AddSection/AddNote.
func NewSyntheticImage(path, archName string, reader ByteReader, segments []*Segment) *ObjectImage {
	return &ObjectImage{
		Path:     path,
		Arch:     archName,
		reader:   reader,
		segments: segments,
		sections: map[string]sectionInfo{},
	}
}

// AddSection registers a named, uncompressed section backed by a region
// of the image's own reader, for tests that need SectionReader to
// succeed without a real section header table.
func (o *ObjectImage) AddSection(name string, off, size int64) {
	if o.sections == nil {
		o.sections = map[string]sectionInfo{}
	}
	o.sections[name] = sectionInfo{off: off, size: size}
}

// AddNote appends a note record, for tests exercising note interpretation
// without a real PT_NOTE segment.
func (o *ObjectImage) AddNote(n Note) {
	o.notes = append(o.notes, n)
}
