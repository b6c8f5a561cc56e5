// Package codec reads and writes the versioned binary stores: the file
// registry, the operation graph and the execution history.
//
// Every file is little-endian: a 4-byte magic, a uint32 version that must
// match exactly, then sections of a 4-byte tag, a uint32 element count and
// the elements. Strings are a uint32 length followed by raw bytes. A file
// with bytes left over after its last section is rejected.
package codec

import (
	"encoding/binary"
	"time"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// tag is a 4-byte magic or section marker, NUL included.
type tag [4]byte

func (t tag) String() string {
	n := len(t)
	for n > 0 && t[n-1] == 0 {
		n--
	}
	return string(t[:n])
}

var (
	magicFileRegistry = tag{'B', 'F', 'S', 0}
	magicGraph        = tag{'B', 'O', 'G', 0}
	magicHistory      = tag{'B', 'O', 'R', 0}

	sectionFiles      = tag{'F', 'I', 'S', 0}
	sectionRoots      = tag{'R', 'O', 'P', 0}
	sectionOperations = tag{'O', 'P', 'S', 0}
	sectionResults    = tag{'R', 'T', 'S', 0}
)

// encoder appends little-endian values to a byte slice.
type encoder struct {
	buf []byte
}

func (e *encoder) tag(t tag) {
	e.buf = append(e.buf, t[:]...)
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) i64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) boolean(v bool) {
	if v {
		e.u32(1)
		return
	}
	e.u32(0)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) fileIDs(ids []filereg.FileID) {
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		e.u32(uint32(id))
	}
}

func (e *encoder) operationIDs(ids []opgraph.OperationID) {
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		e.u32(uint32(id))
	}
}

// millis writes t as Unix milliseconds. The zero time is written as 0, so
// the Unix epoch itself is not representable.
func (e *encoder) millis(t time.Time) {
	if t.IsZero() {
		e.i64(0)
		return
	}
	e.i64(t.UnixMilli())
}

func (e *encoder) header(magic tag, version uint32) {
	e.tag(magic)
	e.u32(version)
}

// fileSection writes the referenced-files table for ids.
func (e *encoder) fileSection(ids []filereg.FileID, reg *filereg.Registry) {
	e.tag(sectionFiles)
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		e.u32(uint32(id))
		e.str(reg.MustPath(id))
	}
}

// decoder reads from a byte slice. The first failure sticks; later reads
// return zero values so callers check err once per record.
type decoder struct {
	store string
	data  []byte
	off   int
	err   *LoadError
}

func newDecoder(store string, data []byte) *decoder {
	return &decoder{store: store, data: data}
}

func (d *decoder) fail(kind LoadErrorKind, format string, args ...any) {
	if d.err == nil {
		d.err = loadErr(d.store, kind, format, args...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.data)-d.off < n {
		d.fail(KindTruncated, "need %d bytes at offset %d, have %d", n, d.off, len(d.data)-d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) i64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (d *decoder) boolean(field string) bool {
	v := d.u32()
	switch v {
	case 0:
		return false
	case 1:
		return true
	}
	d.fail(KindValue, "%s: unexpected boolean value %d", field, v)
	return false
}

func (d *decoder) str() string {
	n := d.u32()
	b := d.take(int(n))
	return string(b)
}

// count reads an element count and rejects counts that cannot fit in the
// remaining bytes given a minimum element size.
func (d *decoder) count(minElem int) int {
	n := int(d.u32())
	if d.err == nil && n*minElem > len(d.data)-d.off {
		d.fail(KindTruncated, "count %d exceeds remaining %d bytes", n, len(d.data)-d.off)
		return 0
	}
	return n
}

func (d *decoder) fileIDs() []filereg.FileID {
	n := d.count(4)
	if n == 0 {
		return nil
	}
	ids := make([]filereg.FileID, n)
	for i := range ids {
		ids[i] = filereg.FileID(d.u32())
	}
	return ids
}

func (d *decoder) operationIDs() []opgraph.OperationID {
	n := d.count(4)
	if n == 0 {
		return nil
	}
	ids := make([]opgraph.OperationID, n)
	for i := range ids {
		ids[i] = opgraph.OperationID(d.u32())
	}
	return ids
}

// millis reads Unix milliseconds written by encoder.millis; 0 decodes to the
// zero time.
func (d *decoder) millis() time.Time {
	ms := d.i64()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (d *decoder) tag() tag {
	var t tag
	copy(t[:], d.take(4))
	return t
}

func (d *decoder) header(magic tag, version uint32) {
	if got := d.tag(); d.err == nil && got != magic {
		d.fail(KindHeader, "invalid file header %q, want %q", got.String(), magic.String())
		return
	}
	if got := d.u32(); d.err == nil && got != version {
		d.fail(KindVersion, "unsupported version %d, want %d", got, version)
	}
}

func (d *decoder) section(want tag) {
	if got := d.tag(); d.err == nil && got != want {
		d.fail(KindSection, "unexpected section tag %q, want %q", got.String(), want.String())
	}
}

// fileSection reads a referenced-files table.
func (d *decoder) fileSection() []filereg.Entry {
	d.section(sectionFiles)
	n := d.count(8)
	entries := make([]filereg.Entry, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		id := filereg.FileID(d.u32())
		path := d.str()
		entries = append(entries, filereg.Entry{ID: id, Path: path})
	}
	return entries
}

// bindFiles checks every referenced file against reg before adopting any of
// them, so a rejected store leaves the registry untouched.
func bindFiles(store string, entries []filereg.Entry, reg *filereg.Registry) *LoadError {
	ids := make(map[filereg.FileID]bool, len(entries))
	paths := make(map[string]bool, len(entries))
	for _, e := range entries {
		if ids[e.ID] || paths[e.Path] {
			return loadErr(store, KindCorrupt, "file %d %q listed twice", e.ID, e.Path)
		}
		ids[e.ID] = true
		paths[e.Path] = true
		if !reg.CanAdopt(e.ID, e.Path) {
			existing, _ := reg.Path(e.ID)
			return loadErr(store, KindGeneration, "file %d is %q in this store but %q in the registry", e.ID, e.Path, existing)
		}
	}
	for _, e := range entries {
		reg.Adopt(e.ID, e.Path)
	}
	return nil
}

func (d *decoder) finish() *LoadError {
	if d.err == nil && d.off != len(d.data) {
		d.fail(KindTrailing, "corrupted: did not read the entire file (%d trailing bytes)", len(d.data)-d.off)
	}
	return d.err
}
