package codec

import (
	"io"

	"github.com/papapumpkin/kiln/internal/filereg"
)

// FileRegistryVersion is the only registry format version this package reads.
const FileRegistryVersion uint32 = 1

// StoreFileRegistry names the file registry in errors and logs.
const StoreFileRegistry = "file registry"

// EncodeFileRegistry writes the id to path table of reg.
func EncodeFileRegistry(w io.Writer, reg *filereg.Registry) error {
	entries := reg.Entries()

	var e encoder
	e.header(magicFileRegistry, FileRegistryVersion)
	e.tag(sectionFiles)
	e.u32(uint32(len(entries)))
	for _, entry := range entries {
		e.u32(uint32(entry.ID))
		e.str(entry.Path)
	}
	_, err := w.Write(e.buf)
	return err
}

// DecodeFileRegistry reads a registry table into reg, which must be empty.
// Nothing is added to reg unless the whole file is valid.
func DecodeFileRegistry(data []byte, reg *filereg.Registry) error {
	d := newDecoder(StoreFileRegistry, data)
	d.header(magicFileRegistry, FileRegistryVersion)
	entries := d.fileSection()
	if err := d.finish(); err != nil {
		return err
	}
	if reg.Len() != 0 {
		return loadErr(StoreFileRegistry, KindCorrupt, "target registry already holds %d files", reg.Len())
	}
	if err := bindFiles(StoreFileRegistry, entries, reg); err != nil {
		return err
	}
	return nil
}
