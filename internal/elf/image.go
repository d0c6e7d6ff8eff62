package elf

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Image is a parsed self-wrapped or bare ELF64 file, read once into host
// memory.
type Image struct {
	FileName string

	self     *SelfHeader
	segments []SelfSegment
	raw      []byte // the embedded/bare ELF bytes, from the ELF header onward
	elfBase  int    // offset of the ELF header within raw's originating file

	Ehdr Ehdr
	Phdr []Phdr
	Shdr []Shdr

	strTab []byte
	dyn    []Dyn
}

// Open reads file once and parses the self-wrapper (if present) and the
// ELF64 structures.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elf: open %s: %w", path, err)
	}
	img := &Image{FileName: path}
	if err := img.parse(data); err != nil {
		return nil, fmt.Errorf("elf: parse %s: %w", path, err)
	}
	return img, nil
}

func (img *Image) parse(data []byte) error {
	elfOffset := 0
	if len(data) >= 12 && data[0] == selfMagic0 && data[1] == selfMagic1 && data[2] == selfMagic2 && data[3] == selfMagic3 {
		if len(data) < 32 {
			return fmt.Errorf("self header truncated")
		}
		var sh SelfHeader
		copy(sh.Ident[:], data[0:12])
		sh.Size1 = binary.LittleEndian.Uint16(data[12:14])
		sh.Size2 = binary.LittleEndian.Uint16(data[14:16])
		sh.FileSize = binary.LittleEndian.Uint64(data[16:24])
		sh.SegmentsNum = binary.LittleEndian.Uint16(data[24:26])
		sh.Unknown = binary.LittleEndian.Uint16(data[26:28])
		sh.Pad = binary.LittleEndian.Uint32(data[28:32])
		img.self = &sh

		segTableOff := 32
		need := segTableOff + int(sh.SegmentsNum)*32
		if len(data) < need {
			return fmt.Errorf("self segment table truncated")
		}
		segs := make([]SelfSegment, sh.SegmentsNum)
		for i := 0; i < int(sh.SegmentsNum); i++ {
			off := segTableOff + i*32
			segs[i] = SelfSegment{
				Type:             binary.LittleEndian.Uint64(data[off : off+8]),
				Offset:           binary.LittleEndian.Uint64(data[off+8 : off+16]),
				CompressedSize:   binary.LittleEndian.Uint64(data[off+16 : off+24]),
				DecompressedSize: binary.LittleEndian.Uint64(data[off+24 : off+32]),
			}
		}
		img.segments = segs

		// The embedded ELF sits at the first loadable segment's offset,
		// or right after the segment table when no segment is loadable.
		elfOffset = segTableOff + int(sh.SegmentsNum)*32
		for _, s := range segs {
			if s.IsLoadable() {
				elfOffset = int(s.Offset)
				break
			}
		}
	}

	img.elfBase = elfOffset
	img.raw = data

	if elfOffset+64 > len(data) {
		return fmt.Errorf("elf header truncated")
	}
	eh, err := parseEhdr(data[elfOffset:])
	if err != nil {
		return err
	}
	img.Ehdr = eh

	if err := img.validateEhdr(); err != nil {
		return err
	}

	img.Phdr, err = img.parsePhdrs()
	if err != nil {
		return err
	}
	img.Shdr, err = img.parseShdrs()
	if err != nil {
		return err
	}

	if img.Ehdr.Shstrndx != 0 && int(img.Ehdr.Shstrndx) < len(img.Shdr) {
		strShdr := img.Shdr[img.Ehdr.Shstrndx]
		img.strTab, _ = img.readAt(int64(strShdr.Offset), int(strShdr.Size))
	}

	img.parseDynamic()

	return nil
}

func parseEhdr(b []byte) (Ehdr, error) {
	var eh Ehdr
	if len(b) < 64 {
		return eh, fmt.Errorf("elf header too small")
	}
	copy(eh.Ident[:], b[0:16])
	eh.Type = binary.LittleEndian.Uint16(b[16:18])
	eh.Machine = binary.LittleEndian.Uint16(b[18:20])
	eh.Version = binary.LittleEndian.Uint32(b[20:24])
	eh.Entry = binary.LittleEndian.Uint64(b[24:32])
	eh.Phoff = binary.LittleEndian.Uint64(b[32:40])
	eh.Shoff = binary.LittleEndian.Uint64(b[40:48])
	eh.Flags = binary.LittleEndian.Uint32(b[48:52])
	eh.Ehsize = binary.LittleEndian.Uint16(b[52:54])
	eh.Phentsize = binary.LittleEndian.Uint16(b[54:56])
	eh.Phnum = binary.LittleEndian.Uint16(b[56:58])
	eh.Shentsize = binary.LittleEndian.Uint16(b[58:60])
	eh.Shnum = binary.LittleEndian.Uint16(b[60:62])
	eh.Shstrndx = binary.LittleEndian.Uint16(b[62:64])
	return eh, nil
}

func (img *Image) validateEhdr() error {
	eh := img.Ehdr
	if eh.Ident[eiClass] != elfClass64 {
		return fmt.Errorf("not ELFCLASS64")
	}
	if eh.Ident[eiData] != elfData2LSB {
		return fmt.Errorf("not little-endian")
	}
	if eh.Ident[eiOSABI] != osABIFreeBSD {
		return fmt.Errorf("unexpected OS ABI %d", eh.Ident[eiOSABI])
	}
	if eh.Ident[eiABIVersion] != 0 && eh.Ident[eiABIVersion] != 2 {
		return fmt.Errorf("unexpected ABI version %d", eh.Ident[eiABIVersion])
	}
	if eh.Type != ETDynExec && eh.Type != ETDynamic {
		return fmt.Errorf("unexpected e_type %#x", eh.Type)
	}
	if eh.Machine != EMX86_64 {
		return fmt.Errorf("unexpected e_machine %d", eh.Machine)
	}
	return nil
}

func (img *Image) parsePhdrs() ([]Phdr, error) {
	b, err := img.readAt(int64(img.Ehdr.Phoff), int(img.Ehdr.Phnum)*56)
	if err != nil {
		return nil, err
	}
	out := make([]Phdr, img.Ehdr.Phnum)
	for i := range out {
		off := i * 56
		out[i] = Phdr{
			Type:   binary.LittleEndian.Uint32(b[off : off+4]),
			Flags:  binary.LittleEndian.Uint32(b[off+4 : off+8]),
			Offset: binary.LittleEndian.Uint64(b[off+8 : off+16]),
			Vaddr:  binary.LittleEndian.Uint64(b[off+16 : off+24]),
			Paddr:  binary.LittleEndian.Uint64(b[off+24 : off+32]),
			Filesz: binary.LittleEndian.Uint64(b[off+32 : off+40]),
			Memsz:  binary.LittleEndian.Uint64(b[off+40 : off+48]),
			Align:  binary.LittleEndian.Uint64(b[off+48 : off+56]),
		}
	}
	return out, nil
}

func (img *Image) parseShdrs() ([]Shdr, error) {
	if img.Ehdr.Shnum == 0 {
		return nil, nil
	}
	b, err := img.readAt(int64(img.Ehdr.Shoff), int(img.Ehdr.Shnum)*64)
	if err != nil {
		return nil, err
	}
	out := make([]Shdr, img.Ehdr.Shnum)
	for i := range out {
		off := i * 64
		out[i] = Shdr{
			Name:      binary.LittleEndian.Uint32(b[off : off+4]),
			Type:      binary.LittleEndian.Uint32(b[off+4 : off+8]),
			Flags:     binary.LittleEndian.Uint64(b[off+8 : off+16]),
			Addr:      binary.LittleEndian.Uint64(b[off+16 : off+24]),
			Offset:    binary.LittleEndian.Uint64(b[off+24 : off+32]),
			Size:      binary.LittleEndian.Uint64(b[off+32 : off+40]),
			Link:      binary.LittleEndian.Uint32(b[off+40 : off+44]),
			Info:      binary.LittleEndian.Uint32(b[off+44 : off+48]),
			Addralign: binary.LittleEndian.Uint64(b[off+48 : off+56]),
			Entsize:   binary.LittleEndian.Uint64(b[off+56 : off+64]),
		}
	}
	return out, nil
}

// parseDynamic scans PT_DYNAMIC for the Elf64_Dyn array. Individual tags
// are fetched lazily through GetDynValue/GetDynList.
func (img *Image) parseDynamic() {
	for _, ph := range img.Phdr {
		if ph.Type != PTDynamic {
			continue
		}
		b, err := img.readAt(int64(ph.Offset), int(ph.Filesz))
		if err != nil {
			return
		}
		for off := 0; off+16 <= len(b); off += 16 {
			tag := int64(binary.LittleEndian.Uint64(b[off : off+8]))
			val := binary.LittleEndian.Uint64(b[off+8 : off+16])
			img.dyn = append(img.dyn, Dyn{Tag: tag, Val: val})
			if tag == DTNull {
				return
			}
		}
	}
}

// readAt reads size bytes at file-relative offset within the embedded ELF
// (i.e. relative to img.elfBase), for bare and self-wrapped images alike.
// It does no per-segment demux; LoadSegment does that.
func (img *Image) readAt(offset int64, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if img.self == nil {
		start := img.elfBase + int(offset)
		if start < 0 || start+size > len(img.raw) {
			return nil, fmt.Errorf("read out of range at %#x size %#x", offset, size)
		}
		return img.raw[start : start+size], nil
	}

	// self-wrapped: the dynamic/program/section tables all live inside
	// the single embedded-ELF blob located at img.elfBase, so the offset
	// math is identical; LoadSegment below handles the per-PT_LOAD
	// segment demux against img.segments.
	start := img.elfBase + int(offset)
	if start < 0 || start+size > len(img.raw) {
		return nil, fmt.Errorf("read out of range at %#x size %#x (self-wrapped)", offset, size)
	}
	return img.raw[start : start+size], nil
}

// LoadSegment copies size bytes starting at fileOffset into dst, handling
// the self-segment demux: identity-compressed loadable segments read
// straight from their blob; a segment lying past self.FileSize that
// exactly fills the trailing bytes falls back to tail-append layout.
func (img *Image) LoadSegment(dst []byte, fileOffset, size uint64) error {
	if uint64(len(dst)) < size {
		return fmt.Errorf("elf: destination too small: have %d need %d", len(dst), size)
	}
	if img.self == nil {
		b, err := img.readAt(int64(fileOffset), int(size))
		if err != nil {
			return err
		}
		copy(dst, b)
		return nil
	}

	for _, seg := range img.segments {
		if !seg.IsLoadable() {
			continue
		}
		if seg.CompressedSize != seg.DecompressedSize {
			return fmt.Errorf("elf: compressed self segments are not supported (unimplemented)")
		}
		if fileOffset >= seg.Offset && fileOffset+size <= seg.Offset+seg.DecompressedSize {
			rel := fileOffset - seg.Offset
			b, err := img.readAt(int64(rel), int(size))
			if err != nil {
				return err
			}
			copy(dst, b)
			return nil
		}
	}

	// Tail-append fallback: the segment lies past self.file_size and
	// exactly fills the trailing bytes of the file.
	if fileOffset >= img.self.FileSize && fileOffset+size == uint64(len(img.raw)) {
		b, err := img.readAt(int64(fileOffset), int(size))
		if err != nil {
			return err
		}
		copy(dst, b)
		return nil
	}

	return fmt.Errorf("elf: no self segment covers offset %#x size %#x", fileOffset, size)
}

// GetDynValue returns the first Elf64_Dyn entry with the given tag, or
// nil. Presence of both a standard tag and its OS mirror is an invariant
// violation the caller should treat as a parse error.
func (img *Image) GetDynValue(tag int64) *Dyn {
	for i := range img.dyn {
		if img.dyn[i].Tag == tag {
			return &img.dyn[i]
		}
	}
	return nil
}

// GetDynList returns every Elf64_Dyn entry with the given tag, in order.
func (img *Image) GetDynList(tag int64) []*Dyn {
	var out []*Dyn
	for i := range img.dyn {
		if img.dyn[i].Tag == tag {
			out = append(out, &img.dyn[i])
		}
	}
	return out
}

func (img *Image) HasDynValue(tag int64) bool { return img.GetDynValue(tag) != nil }

// CheckNoMirrorConflict verifies that standard/OS-mirror tag pairs are not
// both present.
func (img *Image) CheckNoMirrorConflict(std, mirror int64) error {
	if img.HasDynValue(std) && img.HasDynValue(mirror) {
		return fmt.Errorf("elf: both standard tag %#x and OS mirror %#x present", std, mirror)
	}
	return nil
}

// StrTabString reads a NUL-terminated string at offset into tab.
func StrTabString(tab []byte, offset uint32) string {
	if int(offset) >= len(tab) {
		return ""
	}
	end := int(offset)
	for end < len(tab) && tab[end] != 0 {
		end++
	}
	return string(tab[offset:end])
}
