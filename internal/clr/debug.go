package clr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
)

// DebugType is the type of a debug directory entry.
type DebugType uint32

const (
	DebugCodeView     DebugType = 2
	DebugReproducible DebugType = 16
	DebugEmbeddedPDB  DebugType = 17
	DebugPDBChecksum  DebugType = 19

	debugEntrySize   = 28
	codeViewRSDS     = 0x53445352 // "RSDS"
	embeddedPDBMagic = 0x4244504D // "MPDB"

	// Deflate cannot expand input by more than about 1032:1.
	maxInflateRatio = 1032
	maxEmbeddedPDB  = 256 << 20
)

// DebugEntry is one entry of the PE debug directory.
type DebugEntry struct {
	Type         DebugType
	MajorVersion uint16
	MinorVersion uint16
	Data         []byte
}

// CodeView is the RSDS record that links an image to its PDB.
type CodeView struct {
	ID   uuid.UUID
	Age  uint32
	Path string
}

// DebugEntries returns the entries of the debug directory.
func (img *Image) DebugEntries() ([]DebugEntry, error) {
	dir, err := img.directory(dirDebug)
	if err != nil || dir == nil {
		return nil, err
	}

	var entries []DebugEntry
	for off := 0; off+debugEntrySize <= len(dir); off += debugEntrySize {
		e := dir[off : off+debugEntrySize]
		size := binary.LittleEndian.Uint32(e[16:])
		rva := binary.LittleEndian.Uint32(e[20:])
		ptr := binary.LittleEndian.Uint32(e[24:])

		var data []byte
		switch {
		case size == 0:
		case rva != 0:
			data, err = img.slice(rva, size)
		default:
			if uint64(ptr)+uint64(size) > uint64(len(img.data)) {
				err = fmt.Errorf("%w: debug data past end of file", ErrFormat)
			} else {
				data = img.data[ptr : ptr+size]
			}
		}
		if err != nil {
			return nil, err
		}

		entries = append(entries, DebugEntry{
			Type:         DebugType(binary.LittleEndian.Uint32(e[12:])),
			MajorVersion: binary.LittleEndian.Uint16(e[8:]),
			MinorVersion: binary.LittleEndian.Uint16(e[10:]),
			Data:         data,
		})
	}
	return entries, nil
}

// CodeView returns the RSDS record of the image, if any.
func (img *Image) CodeView() (*CodeView, bool) {
	entries, err := img.DebugEntries()
	if err != nil {
		return nil, false
	}
	for _, e := range entries {
		if e.Type != DebugCodeView || len(e.Data) < 24 {
			continue
		}
		if binary.LittleEndian.Uint32(e.Data) != codeViewRSDS {
			continue
		}
		path := e.Data[24:]
		if n := bytes.IndexByte(path, 0); n >= 0 {
			path = path[:n]
		}
		return &CodeView{
			ID:   guidFromBytes(e.Data[4:20]),
			Age:  binary.LittleEndian.Uint32(e.Data[20:]),
			Path: string(path),
		}, true
	}
	return nil, false
}

// EmbeddedPDB returns the decompressed portable PDB embedded in the image.
// ok is false when the image has no embedded PDB.
func (img *Image) EmbeddedPDB() (pdb []byte, ok bool, err error) {
	entries, err := img.DebugEntries()
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if e.Type != DebugEmbeddedPDB {
			continue
		}
		if len(e.Data) < 8 || binary.LittleEndian.Uint32(e.Data) != embeddedPDBMagic {
			return nil, false, fmt.Errorf("%w: bad embedded PDB header", ErrFormat)
		}
		size := uint64(binary.LittleEndian.Uint32(e.Data[4:]))
		if size > maxEmbeddedPDB || size > uint64(len(e.Data)-8)*maxInflateRatio+64 {
			return nil, false, fmt.Errorf("%w: embedded PDB claims %d bytes from %d compressed", ErrFormat, size, len(e.Data)-8)
		}
		zr := flate.NewReader(bytes.NewReader(e.Data[8:]))
		defer func() { _ = zr.Close() }()

		out := make([]byte, size)
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, false, fmt.Errorf("inflating embedded PDB: %w", err)
		}
		return out, true, nil
	}
	return nil, false, nil
}

// CompressEmbeddedPDB produces the data of an embedded PDB debug entry.
func CompressEmbeddedPDB(pdb []byte) ([]byte, error) {
	var buf bytes.Buffer
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header, embeddedPDBMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(pdb)))
	buf.Write(header)

	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(pdb); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
