package objfile

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"github.com/binbridge/binbridge/internal/engine"
)

// maxProcedureSize bounds the extent of a procedure whose size is unknown.
const maxProcedureSize = 1 << 20

type arch int

const (
	archUnknown arch = iota
	archAMD64
	arch386
	archARM64
)

func (a arch) String() string {
	switch a {
	case archAMD64:
		return "amd64"
	case arch386:
		return "386"
	case archARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// region is a file-backed range of the address space.
type region struct {
	name   string
	start  engine.Address
	data   []byte
	exec   bool
	rodata bool
}

func (r *region) end() engine.Address { return r.start + engine.Address(len(r.data)) }

func (r *region) contains(addr engine.Address) bool {
	return addr >= r.start && addr < r.end()
}

// symbol is a function symbol before extents are resolved.
type symbol struct {
	name string
	addr engine.Address
	size uint64
}

// image is the parsed, immutable view of a binary.
type image struct {
	path     string
	format   string
	arch     arch
	entry    engine.Address
	segments []engine.Segment
	regions  []region
	procs    []engine.Procedure
	dwarf    *dwarf.Data
	closer   io.Closer
}

var errUnknownFormat = errors.New("unrecognized object file format")

// loadImage opens path and parses it as ELF, Mach-O or PE.
func loadImage(path string) (*image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var magic [4]byte
	_, err = io.ReadFull(f, magic[:])
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	var img *image
	switch {
	case bytes.Equal(magic[:], []byte(elf.ELFMAG)):
		img, err = loadELF(path)
	case isMachO(magic):
		img, err = loadMachO(path)
	case magic[0] == 'M' && magic[1] == 'Z':
		img, err = loadPE(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, errUnknownFormat)
	}
	if err != nil {
		return nil, err
	}
	img.path = path
	return img, nil
}

func isMachO(magic [4]byte) bool {
	be := binary.BigEndian.Uint32(magic[:])
	le := binary.LittleEndian.Uint32(magic[:])
	for _, m := range []uint32{macho.Magic32, macho.Magic64, macho.MagicFat} {
		if be == m || le == m {
			return true
		}
	}
	return false
}

func loadELF(path string) (*image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file %s: %w", path, err)
	}

	img := &image{format: "elf", entry: engine.Address(f.Entry), closer: f}
	switch f.Machine {
	case elf.EM_X86_64:
		img.arch = archAMD64
	case elf.EM_386:
		img.arch = arch386
	case elf.EM_AARCH64:
		img.arch = archARM64
	}

	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Addr == 0 || s.Size == 0 {
			continue
		}
		write := s.Flags&elf.SHF_WRITE != 0
		exec := s.Flags&elf.SHF_EXECINSTR != 0
		img.segments = append(img.segments, engine.Segment{
			Name:        s.Name,
			Start:       engine.Address(s.Addr),
			Length:      s.Size,
			Permissions: perms(true, write, exec),
			Type:        sectionType(s.Type == elf.SHT_NOBITS, write, exec),
		})
		if s.Type == elf.SHT_NOBITS {
			continue
		}
		data, err := s.Data()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read section %s: %w", s.Name, err)
		}
		img.regions = append(img.regions, region{
			name:   s.Name,
			start:  engine.Address(s.Addr),
			data:   data,
			exec:   exec,
			rodata: !write && !exec,
		})
	}

	var syms []symbol
	if table, err := f.Symbols(); err == nil {
		syms = append(syms, elfFunctions(table)...)
	}
	if table, err := f.DynamicSymbols(); err == nil {
		syms = append(syms, elfFunctions(table)...)
	}
	img.resolveProcedures(syms)

	if d, err := f.DWARF(); err == nil {
		img.dwarf = d
	}
	return img, nil
}

func elfFunctions(table []elf.Symbol) []symbol {
	var out []symbol
	for _, s := range table {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}
		out = append(out, symbol{name: s.Name, addr: engine.Address(s.Value), size: s.Size})
	}
	return out
}

// Mach-O constants debug/macho does not export.
const (
	lcMain               = 0x80000028
	attrPureInstructions = 0x80000000
	attrSomeInstructions = 0x00000400
)

func loadMachO(path string) (*image, error) {
	f, closer, err := openMachO(path)
	if err != nil {
		return nil, err
	}

	img := &image{format: "macho", closer: closer}
	switch f.Cpu {
	case macho.CpuAmd64:
		img.arch = archAMD64
	case macho.Cpu386:
		img.arch = arch386
	case macho.CpuArm64:
		img.arch = archARM64
	}

	var textBase engine.Address
	for _, l := range f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok || seg.Memsz == 0 || seg.Prot == 0 {
			continue
		}
		if seg.Name == "__TEXT" {
			textBase = engine.Address(seg.Addr)
		}
		img.segments = append(img.segments, engine.Segment{
			Name:        seg.Name,
			Start:       engine.Address(seg.Addr),
			Length:      seg.Memsz,
			Permissions: perms(seg.Prot&1 != 0, seg.Prot&2 != 0, seg.Prot&4 != 0),
			Type:        sectionType(false, seg.Prot&2 != 0, seg.Prot&4 != 0),
		})
	}
	for _, l := range f.Loads {
		raw := l.Raw()
		if len(raw) >= 16 && f.ByteOrder.Uint32(raw) == lcMain {
			img.entry = textBase + engine.Address(f.ByteOrder.Uint64(raw[8:]))
		}
	}

	textSect := -1
	for i, s := range f.Sections {
		const zerofill = 0x1
		if s.Size == 0 || s.Flags&0xff == zerofill {
			continue
		}
		exec := s.Flags&(attrPureInstructions|attrSomeInstructions) != 0
		if s.Seg == "__TEXT" && s.Name == "__text" {
			textSect = i
		}
		data, err := s.Data()
		if err != nil {
			closer.Close()
			return nil, fmt.Errorf("failed to read section %s,%s: %w", s.Seg, s.Name, err)
		}
		img.regions = append(img.regions, region{
			name:   s.Seg + "," + s.Name,
			start:  engine.Address(s.Addr),
			data:   data,
			exec:   exec,
			rodata: !exec && (s.Seg == "__TEXT" || s.Name == "__const" || s.Name == "__cstring"),
		})
	}

	var syms []symbol
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			const stab = 0xe0
			if s.Type&stab != 0 || s.Value == 0 || int(s.Sect)-1 != textSect || textSect < 0 {
				continue
			}
			syms = append(syms, symbol{name: s.Name, addr: engine.Address(s.Value)})
		}
	}
	img.resolveProcedures(syms)

	if d, err := f.DWARF(); err == nil {
		img.dwarf = d
	}
	return img, nil
}

// openMachO opens a thin Mach-O file, or the best slice of a universal one.
func openMachO(path string) (*macho.File, io.Closer, error) {
	if fat, err := macho.OpenFat(path); err == nil {
		want := map[string]macho.Cpu{"amd64": macho.CpuAmd64, "arm64": macho.CpuArm64, "386": macho.Cpu386}[runtime.GOARCH]
		chosen := fat.Arches[0].File
		for _, a := range fat.Arches {
			if a.Cpu == want {
				chosen = a.File
				break
			}
		}
		return chosen, fat, nil
	}
	f, err := macho.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Mach-O file %s: %w", path, err)
	}
	return f, f, nil
}

func loadPE(path string) (*image, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PE file %s: %w", path, err)
	}

	img := &image{format: "pe", closer: f}
	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		base = oh.ImageBase
		img.entry = engine.Address(base + uint64(oh.AddressOfEntryPoint))
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
		img.entry = engine.Address(base + uint64(oh.AddressOfEntryPoint))
	}
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		img.arch = archAMD64
	case pe.IMAGE_FILE_MACHINE_I386:
		img.arch = arch386
	case pe.IMAGE_FILE_MACHINE_ARM64:
		img.arch = archARM64
	}

	for _, s := range f.Sections {
		read := s.Characteristics&pe.IMAGE_SCN_MEM_READ != 0
		write := s.Characteristics&pe.IMAGE_SCN_MEM_WRITE != 0
		exec := s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0
		start := engine.Address(base + uint64(s.VirtualAddress))
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(s.Size)
		}
		img.segments = append(img.segments, engine.Segment{
			Name:        s.Name,
			Start:       start,
			Length:      size,
			Permissions: perms(read, write, exec),
			Type:        sectionType(s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0, write, exec),
		})
		if s.Size == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read section %s: %w", s.Name, err)
		}
		if uint64(len(data)) > size {
			data = data[:size]
		}
		img.regions = append(img.regions, region{
			name:   s.Name,
			start:  start,
			data:   data,
			exec:   exec,
			rodata: !write && !exec,
		})
	}

	var syms []symbol
	for _, s := range f.Symbols {
		const complexFunction = 0x20
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sect := f.Sections[s.SectionNumber-1]
		if sect.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE == 0 {
			continue
		}
		if s.Type&0xf0 != complexFunction && s.StorageClass != 2 {
			continue
		}
		addr := engine.Address(base + uint64(sect.VirtualAddress) + uint64(s.Value))
		syms = append(syms, symbol{name: s.Name, addr: addr})
	}
	img.resolveProcedures(syms)

	if d, err := f.DWARF(); err == nil {
		img.dwarf = d
	}
	return img, nil
}

// resolveProcedures turns function symbols into procedures ordered by entry.
// Duplicate addresses keep the first name; the entry point is added as
// "entry" when no symbol covers it. Unknown sizes run to the next procedure
// or the end of the containing executable region.
func (img *image) resolveProcedures(syms []symbol) {
	if img.entry != 0 {
		if r := img.regionAt(img.entry); r != nil && r.exec {
			syms = append(syms, symbol{name: "entry", addr: img.entry})
		}
	}
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].addr < syms[j].addr })

	procs := make([]engine.Procedure, 0, len(syms))
	for _, s := range syms {
		r := img.regionAt(s.addr)
		if r == nil || !r.exec {
			continue
		}
		if n := len(procs); n > 0 && procs[n-1].Entry == s.addr {
			if procs[n-1].Size == 0 && s.size > 0 {
				procs[n-1].Size = s.size
			}
			continue
		}
		name := s.name
		if name == "" {
			name = fmt.Sprintf("sub_%x", uint64(s.addr))
		}
		procs = append(procs, engine.Procedure{Entry: s.addr, Name: name, Size: s.size})
	}

	for i := range procs {
		if procs[i].Size != 0 {
			continue
		}
		limit := img.regionAt(procs[i].Entry).end()
		if i+1 < len(procs) && procs[i+1].Entry < limit {
			limit = procs[i+1].Entry
		}
		procs[i].Size = min(uint64(limit-procs[i].Entry), maxProcedureSize)
	}
	img.procs = procs
}

func (img *image) regionAt(addr engine.Address) *region {
	for i := range img.regions {
		if img.regions[i].contains(addr) {
			return &img.regions[i]
		}
	}
	return nil
}

// procedureAt returns the procedure whose entry is exactly addr.
func (img *image) procedureAt(addr engine.Address) (engine.Procedure, bool) {
	i := sort.Search(len(img.procs), func(i int) bool { return img.procs[i].Entry >= addr })
	if i < len(img.procs) && img.procs[i].Entry == addr {
		return img.procs[i], true
	}
	return engine.Procedure{}, false
}

// symbolize names addr as "proc" or "proc+0xoff".
func (img *image) symbolize(addr engine.Address) (string, engine.Address) {
	i := sort.Search(len(img.procs), func(i int) bool { return img.procs[i].Entry > addr })
	if i == 0 {
		return "", 0
	}
	p := img.procs[i-1]
	if uint64(addr-p.Entry) >= p.Size {
		return "", 0
	}
	return p.Name, p.Entry
}

// bytesOf returns the file bytes of proc, clipped to its region.
func (img *image) bytesOf(proc engine.Procedure) []byte {
	r := img.regionAt(proc.Entry)
	if r == nil {
		return nil
	}
	off := uint64(proc.Entry - r.start)
	end := min(off+proc.Size, uint64(len(r.data)))
	return r.data[off:end]
}

func perms(r, w, x bool) string {
	b := []byte("---")
	if r {
		b[0] = 'r'
	}
	if w {
		b[1] = 'w'
	}
	if x {
		b[2] = 'x'
	}
	return string(b)
}

func sectionType(zero, write, exec bool) string {
	switch {
	case exec:
		return "code"
	case zero:
		return "bss"
	case write:
		return "data"
	default:
		return "rodata"
	}
}
