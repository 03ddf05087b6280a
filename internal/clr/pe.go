// Package clr reads managed assemblies and their debug information without
// loading or executing them. It understands the PE container, the CLI header,
// the ECMA-335 metadata tables and both portable and Windows PDB files.
package clr

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNotManaged is returned for PE images without a CLI header.
	ErrNotManaged = errors.New("not a managed assembly")
	// ErrFormat is returned for malformed images or metadata.
	ErrFormat = errors.New("malformed metadata")
)

const (
	dirDebug = 6
	dirCLR   = 14
)

// Image is a parsed PE file with its metadata root.
type Image struct {
	data     []byte
	file     *pe.File
	dirs     []pe.DataDirectory
	metadata *Metadata
}

// Open reads and parses the image at path.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a managed PE image held in memory. The returned Image owns data.
func Parse(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	img := &Image{data: data, file: f}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, 16)]
	case *pe.OptionalHeader64:
		img.dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, 16)]
	default:
		return nil, ErrNotManaged
	}

	if len(img.dirs) <= dirCLR || img.dirs[dirCLR].VirtualAddress == 0 {
		return nil, ErrNotManaged
	}

	cli, err := img.directory(dirCLR)
	if err != nil {
		return nil, err
	}
	// cb, runtime version, then the metadata directory.
	if len(cli) < 16 {
		return nil, fmt.Errorf("%w: short CLI header", ErrFormat)
	}
	mdRVA := binary.LittleEndian.Uint32(cli[8:])
	mdSize := binary.LittleEndian.Uint32(cli[12:])

	root, err := img.slice(mdRVA, mdSize)
	if err != nil {
		return nil, err
	}
	img.metadata, err = ParseMetadata(root)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Metadata returns the metadata root of the image.
func (img *Image) Metadata() *Metadata {
	return img.metadata
}

// Machine returns the COFF machine type.
func (img *Image) Machine() uint16 {
	return img.file.Machine
}

func (img *Image) directory(i int) ([]byte, error) {
	if i >= len(img.dirs) {
		return nil, nil
	}
	d := img.dirs[i]
	if d.VirtualAddress == 0 || d.Size == 0 {
		return nil, nil
	}
	return img.slice(d.VirtualAddress, d.Size)
}

// slice maps an RVA range to the bytes backing it.
func (img *Image) slice(rva, size uint32) ([]byte, error) {
	off, ok := img.offset(rva)
	if !ok {
		return nil, fmt.Errorf("%w: rva 0x%x outside sections", ErrFormat, rva)
	}
	end := uint64(off) + uint64(size)
	if end > uint64(len(img.data)) {
		return nil, fmt.Errorf("%w: rva 0x%x+0x%x past end of file", ErrFormat, rva, size)
	}
	return img.data[off:end], nil
}

func (img *Image) offset(rva uint32) (uint32, bool) {
	for _, s := range img.file.Sections {
		span := s.VirtualSize
		if s.Size > span {
			span = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+span {
			return rva - s.VirtualAddress + s.Offset, true
		}
	}
	return 0, false
}
