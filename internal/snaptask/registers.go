package snaptask

import (
	"encoding/binary"
	"fmt"

	"github.com/snapstack/pstack/internal/snapcore"
)

// parsePRStatus decodes the elf_prstatus payload of an NT_PRSTATUS note
// for the given architecture, returning the LWP's pid, its current
// signal (pr_cursig) and its general-purpose register file.
//
// Layout transcribes Linux's sys/procfs.h elf_prstatus and sys/user.h
// register numbering verbatim. Only amd64 is implemented; other
// architectures return an error rather than a guessed-at offset.
func parsePRStatus(archName string, desc []byte) (regs Registers, pid uint64, cursig int32, err error) {
	switch archName {
	case "amd64":
		const (
			cursigOff  = 12
			cursigSize = 2
			pidOff     = 32
			pidSize    = 4
			regOff     = 112
			regSize    = 216 // sizeof(elf_gregset_t): 27 * 8 bytes
			pcIndex    = 16
			spIndex    = 19
		)
		if len(desc) < regOff+regSize {
			return Registers{}, 0, 0, fmt.Errorf("snaptask: NT_PRSTATUS payload too short (%d bytes)", len(desc))
		}
		cursig = int32(int16(binary.LittleEndian.Uint16(desc[cursigOff : cursigOff+cursigSize])))
		pid = uint64(binary.LittleEndian.Uint32(desc[pidOff : pidOff+pidSize]))
		raw := make([]uint64, regSize/8)
		reg := desc[regOff : regOff+regSize]
		for i := range raw {
			raw[i] = binary.LittleEndian.Uint64(reg[i*8:])
		}
		regs = Registers{
			PC:  snapcore.Address(raw[pcIndex]),
			SP:  snapcore.Address(raw[spIndex]),
			Raw: raw,
		}
		return regs, pid, cursig, nil
	default:
		return Registers{}, 0, 0, fmt.Errorf("snaptask: register decoding not implemented for architecture %q", archName)
	}
}

// amd64 register indices into Registers.Raw, in elf_gregset_t order
// (r15 .. gs).
const (
	RegR15 = iota
	RegR14
	RegR13
	RegR12
	RegRBP
	RegRBX
	RegR11
	RegR10
	RegR9
	RegR8
	RegRAX
	RegRCX
	RegRDX
	RegRSI
	RegRDI
	RegOrigRAX
	RegRIP
	RegCS
	RegEflags
	RegRSP
	RegSS
	RegFSBase
	RegGSBase
	RegDS
	RegES
	RegFS
	RegGS
)
