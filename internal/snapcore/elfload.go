package snapcore

import (
	"debug/elf"
	"fmt"
	"os"
	"strings"
)

// LoadObjectImage opens path and builds an ObjectImage from its ELF
// loadable segments, notes and sections. Grounded on
// internal/core/process.go's readExec/readLoad/readNote, generalized so
// it applies uniformly to the primary executable, the snapshot, and
// every loaded shared object instead of being special-cased per caller.
func LoadObjectImage(path string) (*ObjectImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return loadObjectImageFromFile(path, f)
}

func loadObjectImageFromFile(path string, f *os.File) (*ObjectImage, error) {
	fr, err := NewFileReader(f)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("snapcore: %s: %w", path, err)
	}

	img := &ObjectImage{
		Path:     path,
		Arch:     archName(ef.Machine),
		reader:   fr,
		sections: map[string]sectionInfo{},
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		var perm Perm
		if prog.Flags&elf.PF_R != 0 {
			perm |= Read
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= Write
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= Exec
		}
		img.segments = append(img.segments, &Segment{
			Vaddr:    Address(prog.Vaddr),
			FileOff:  int64(prog.Off),
			FileSize: int64(prog.Filesz),
			MemSize:  int64(prog.Memsz),
			Flags:    perm,
		})
	}
	img.segments = mergeAdjacent(img.segments)

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if err := ReadFull(fr, buf, int64(prog.Off)); err != nil {
			return nil, fmt.Errorf("snapcore: %s: reading notes: %w", path, err)
		}
		img.notes = append(img.notes, decodeNotes(buf, ef.ByteOrder)...)
	}

	for _, sec := range ef.Sections {
		if sec.Type == elf.SHT_NOBITS || sec.Size == 0 {
			continue
		}
		compressed := sec.Flags&elf.SHF_COMPRESSED != 0 || strings.HasPrefix(sec.Name, ".zdebug_")
		si := sectionInfo{
			off:        int64(sec.Offset),
			size:       int64(sec.Size),
			compressed: compressed,
		}
		if compressed {
			si.elfSection = sec
		}
		img.sections[sec.Name] = si
	}

	return img, nil
}

func archName(m elf.Machine) string {
	switch m {
	case elf.EM_386:
		return "386"
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_ARM:
		return "arm"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_MIPS:
		return "mips"
	case elf.EM_MIPS_RS3_LE:
		return "mipsle"
	case elf.EM_PPC64:
		return "ppc64" // caller distinguishes ppc64le via ByteOrder if needed
	case elf.EM_S390:
		return "s390x"
	default:
		return ""
	}
}
