package clr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const metadataSignature = 0x424A5342 // "BSJB"

// Metadata is a parsed metadata root: the streams of an assembly or of a
// portable PDB.
type Metadata struct {
	Version string
	streams map[string][]byte
	strings []byte
	blob    []byte
	guid    []byte
	tables  *tables
}

// IsMetadataRoot reports whether data starts with the metadata signature.
func IsMetadataRoot(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == metadataSignature
}

// ParseMetadata parses a metadata root and its streams. The table stream is
// parsed when present; a root without one is valid (portable PDBs may omit it).
func ParseMetadata(data []byte) (*Metadata, error) {
	if !IsMetadataRoot(data) {
		return nil, fmt.Errorf("%w: missing metadata signature", ErrFormat)
	}
	r := reader{data: data, pos: 12}
	vlen, err := r.u32()
	if err != nil {
		return nil, err
	}
	vbytes, err := r.bytes(int(vlen))
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		Version: string(bytes.TrimRight(vbytes, "\x00")),
		streams: make(map[string][]byte),
	}

	if _, err := r.u16(); err != nil { // flags
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(count); i++ {
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.paddedString()
		if err != nil {
			return nil, err
		}
		end := uint64(off) + uint64(size)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: stream %s out of range", ErrFormat, name)
		}
		md.streams[name] = data[off:end]
	}

	md.strings = md.streams["#Strings"]
	md.blob = md.streams["#Blob"]
	md.guid = md.streams["#GUID"]

	// Portable PDB tables reference row counts from the #Pdb stream and are
	// not needed here.
	if md.HasStream("#Pdb") {
		return md, nil
	}
	if ts, ok := md.streams["#~"]; ok {
		md.tables, err = parseTables(ts)
		if err != nil {
			return nil, err
		}
	} else if ts, ok := md.streams["#-"]; ok {
		md.tables, err = parseTables(ts)
		if err != nil {
			return nil, err
		}
	}
	return md, nil
}

// HasStream reports whether the root declares the named stream.
func (md *Metadata) HasStream(name string) bool {
	_, ok := md.streams[name]
	return ok
}

// String returns the null-terminated string at idx in the #Strings heap.
func (md *Metadata) String(idx uint32) string {
	if int(idx) >= len(md.strings) {
		return ""
	}
	s := md.strings[idx:]
	if n := bytes.IndexByte(s, 0); n >= 0 {
		s = s[:n]
	}
	return string(s)
}

// Blob returns the blob at idx in the #Blob heap.
func (md *Metadata) Blob(idx uint32) []byte {
	if int(idx) >= len(md.blob) {
		return nil
	}
	r := reader{data: md.blob, pos: int(idx)}
	n, err := r.compressed()
	if err != nil {
		return nil
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return nil
	}
	return b
}

// GUID returns the 1-based idx entry of the #GUID heap.
func (md *Metadata) GUID(idx uint32) uuid.UUID {
	if idx == 0 || int(idx)*16 > len(md.guid) {
		return uuid.Nil
	}
	return guidFromBytes(md.guid[(idx-1)*16 : idx*16])
}

// GUIDs returns every entry of the #GUID heap.
func (md *Metadata) GUIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(md.guid)/16)
	for i := 0; i+16 <= len(md.guid); i += 16 {
		out = append(out, guidFromBytes(md.guid[i:i+16]))
	}
	return out
}

// guidFromBytes converts the on-disk GUID layout, whose first three fields
// are little-endian, to an RFC 4122 byte order UUID.
func guidFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

// GUIDBytes converts a UUID to its on-disk GUID layout.
func GUIDBytes(u uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

// reader is a bounds-checked little-endian cursor.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("%w: read of %d bytes at %d past end (%d)", ErrFormat, n, r.pos, len(r.data))
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// paddedString reads a null-terminated name padded to a 4 byte boundary.
func (r *reader) paddedString() (string, error) {
	start := r.pos
	n := bytes.IndexByte(r.data[start:], 0)
	if n < 0 {
		return "", fmt.Errorf("%w: unterminated stream name", ErrFormat)
	}
	r.pos = start + (n+4)&^3
	if r.pos > len(r.data) {
		return "", fmt.Errorf("%w: stream name past end", ErrFormat)
	}
	return string(r.data[start : start+n]), nil
}

// compressed reads an ECMA-335 compressed unsigned integer.
func (r *reader) compressed() (uint32, error) {
	b0, err := r.u8()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.u8()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := r.bytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	}
	return 0, fmt.Errorf("%w: invalid compressed integer 0x%x", ErrFormat, b0)
}
