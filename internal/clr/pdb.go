package clr

import (
	"bytes"

	"github.com/google/uuid"
)

// SourceLinkKind is the custom debug information kind of a Source Link
// record in a portable PDB.
var SourceLinkKind = uuid.MustParse("CC110556-A091-4D38-9FEC-25AB9A351A6A")

var (
	windowsPDBMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")
	sourceLinkName  = []byte("sourcelink")
)

// PDBFormat is the container format of a symbol file.
type PDBFormat uint8

const (
	PDBUnknown PDBFormat = iota
	PDBPortable
	PDBWindows
)

func (f PDBFormat) String() string {
	switch f {
	case PDBPortable:
		return "portable"
	case PDBWindows:
		return "windows"
	}
	return "unknown"
}

// DetectPDB reports the format of a symbol file from its leading bytes.
func DetectPDB(data []byte) PDBFormat {
	switch {
	case IsMetadataRoot(data):
		return PDBPortable
	case bytes.HasPrefix(data, windowsPDBMagic):
		return PDBWindows
	}
	return PDBUnknown
}

// PDB is the result of inspecting a symbol file.
type PDB struct {
	Format     PDBFormat
	SourceLink bool
}

// ReadPDB inspects a portable or Windows PDB. Source Link in a portable PDB
// is found through its custom debug information kind in the #GUID heap; a
// Windows PDB carries it as a named "sourcelink" stream.
func ReadPDB(data []byte) (*PDB, error) {
	p := &PDB{Format: DetectPDB(data)}
	switch p.Format {
	case PDBPortable:
		md, err := ParseMetadata(data)
		if err != nil {
			return nil, err
		}
		for _, g := range md.GUIDs() {
			if g == SourceLinkKind {
				p.SourceLink = true
				break
			}
		}
	case PDBWindows:
		p.SourceLink = bytes.Contains(data, sourceLinkName)
	default:
		return nil, ErrFormat
	}
	return p, nil
}
