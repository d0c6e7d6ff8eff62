package elf

import (
	"fmt"
	"io"
)

// NeoMode reports whether this binary was built against the
// performance-mode ABI variant (ABIVersion == 2 in e_ident), the same
// test the runtime linker uses to decide whether to advertise the
// high-clock/extra-CU hardware profile to the guest.
func (img *Image) NeoMode() bool {
	return img.Ehdr.Ident[eiABIVersion] == 2
}

// DebugDump writes a human-readable dump of the ELF header, program
// headers and section headers to w, mirroring the loader's debug dump
// facility.
func (img *Image) DebugDump(w io.Writer) error {
	eh := img.Ehdr
	if _, err := fmt.Fprintf(w, "ehdr->e_ident = %x\n", eh.Ident); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_type = %#04x\n", eh.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_machine = %#04x\n", eh.Machine); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_version = %#08x\n", eh.Version); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_entry = %#016x\n", eh.Entry); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_phoff = %#016x\n", eh.Phoff); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_shoff = %#016x\n", eh.Shoff); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_flags = %#08x\n", eh.Flags); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_phnum = %d\n", eh.Phnum); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_shnum = %d\n", eh.Shnum); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "ehdr->e_shstrndx = %d\n", eh.Shstrndx); err != nil {
		return err
	}

	for i, ph := range img.Phdr {
		if _, err := fmt.Fprintf(w, "phdr[%d]->p_type = %#08x\n", i, ph.Type); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "phdr[%d]->p_flags = %#08x\n", i, ph.Flags); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "phdr[%d]->p_offset = %#016x\n", i, ph.Offset); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "phdr[%d]->p_vaddr = %#016x\n", i, ph.Vaddr); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "phdr[%d]->p_filesz = %#016x\n", i, ph.Filesz); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "phdr[%d]->p_memsz = %#016x\n", i, ph.Memsz); err != nil {
			return err
		}
	}

	for i, sh := range img.Shdr {
		if _, err := fmt.Fprintf(w, "shdr[%d]->sh_name = %d\n", i, sh.Name); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "shdr[%d]->sh_type = %#08x\n", i, sh.Type); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "shdr[%d]->sh_addr = %#016x\n", i, sh.Addr); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "shdr[%d]->sh_size = %#016x\n", i, sh.Size); err != nil {
			return err
		}
	}

	return nil
}
