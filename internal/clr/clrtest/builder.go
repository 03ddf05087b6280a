// Package clrtest builds small managed assemblies and symbol files for tests.
// The images carry real PE headers and ECMA-335 metadata but no code.
package clrtest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/git-pkgs/addinaudit/internal/clr"
)

const (
	textRVA       = 0x2000
	fileAlignment = 0x200
	cliHeaderSize = 72

	coreNamespace = "Cake.Core.Annotations"
)

// Attr describes a custom attribute whose constructor takes string arguments.
type Attr struct {
	Namespace string
	Name      string
	Args      []string
}

// MethodAlias is the attribute that marks a script method alias.
func MethodAlias() Attr {
	return Attr{Namespace: coreNamespace, Name: "CakeMethodAliasAttribute"}
}

// PropertyAlias is the attribute that marks a script property alias.
func PropertyAlias() Attr {
	return Attr{Namespace: coreNamespace, Name: "CakePropertyAliasAttribute"}
}

// AliasCategory is the attribute that groups aliases under a category.
func AliasCategory(category string) Attr {
	return Attr{Namespace: coreNamespace, Name: "CakeAliasCategoryAttribute", Args: []string{category}}
}

type method struct {
	name  string
	attrs []Attr
}

type typeDef struct {
	namespace string
	name      string
	attrs     []Attr
	methods   []method
}

type assemblyRef struct {
	name    string
	version [4]uint16
}

// Builder accumulates the contents of an assembly.
type Builder struct {
	name     string
	version  [4]uint16
	refs     []assemblyRef
	types    []*TypeBuilder
	asmAttrs []Attr
	codeView *clr.CodeView
	embedded []byte
	rawPDB   []byte
}

// TypeBuilder adds methods and attributes to one type.
type TypeBuilder struct {
	def typeDef
}

// New starts an assembly with the given simple name and version 1.0.0.0.
func New(name string) *Builder {
	return &Builder{name: name, version: [4]uint16{1, 0, 0, 0}}
}

// Version sets the assembly version.
func (b *Builder) Version(major, minor, build, revision uint16) *Builder {
	b.version = [4]uint16{major, minor, build, revision}
	return b
}

// Reference adds an AssemblyRef row.
func (b *Builder) Reference(name string, major, minor, build, revision uint16) *Builder {
	b.refs = append(b.refs, assemblyRef{name: name, version: [4]uint16{major, minor, build, revision}})
	return b
}

// TargetFramework adds a TargetFrameworkAttribute such as
// ".NETStandard,Version=v2.0" to the assembly.
func (b *Builder) TargetFramework(long string) *Builder {
	b.asmAttrs = append(b.asmAttrs, Attr{
		Namespace: "System.Runtime.Versioning",
		Name:      "TargetFrameworkAttribute",
		Args:      []string{long},
	})
	return b
}

// Type adds a type definition.
func (b *Builder) Type(namespace, name string, attrs ...Attr) *TypeBuilder {
	t := &TypeBuilder{def: typeDef{namespace: namespace, name: name, attrs: attrs}}
	b.types = append(b.types, t)
	return t
}

// Method adds a static method to the type.
func (t *TypeBuilder) Method(name string, attrs ...Attr) *TypeBuilder {
	t.def.methods = append(t.def.methods, method{name: name, attrs: attrs})
	return t
}

// CodeView adds an RSDS debug directory entry.
func (b *Builder) CodeView(id uuid.UUID, path string) *Builder {
	b.codeView = &clr.CodeView{ID: id, Age: 1, Path: path}
	return b
}

// EmbeddedPDB adds an embedded portable PDB debug directory entry.
func (b *Builder) EmbeddedPDB(pdb []byte) *Builder {
	b.embedded = pdb
	return b
}

// RawEmbeddedPDB adds an embedded PDB debug directory entry with data taken
// as is, header included.
func (b *Builder) RawEmbeddedPDB(data []byte) *Builder {
	b.rawPDB = data
	return b
}

// Bytes returns the assembly image.
func (b *Builder) Bytes() []byte {
	md := b.metadata()

	var debugData [][]byte
	var debugTypes []clr.DebugType
	if b.codeView != nil {
		cv := binary.LittleEndian.AppendUint32(nil, 0x53445352)
		cv = append(cv, clr.GUIDBytes(b.codeView.ID)...)
		cv = binary.LittleEndian.AppendUint32(cv, b.codeView.Age)
		cv = append(cv, b.codeView.Path...)
		cv = append(cv, 0)
		debugData = append(debugData, cv)
		debugTypes = append(debugTypes, clr.DebugCodeView)
	}
	if b.embedded != nil {
		data, err := clr.CompressEmbeddedPDB(b.embedded)
		if err != nil {
			panic(err)
		}
		debugData = append(debugData, data)
		debugTypes = append(debugTypes, clr.DebugEmbeddedPDB)
	}
	if b.rawPDB != nil {
		debugData = append(debugData, b.rawPDB)
		debugTypes = append(debugTypes, clr.DebugEmbeddedPDB)
	}

	// .text: CLI header, metadata, debug directory, debug data.
	var text bytes.Buffer
	mdOff := uint32(cliHeaderSize)
	debugDirOff := align(mdOff+uint32(len(md)), 4)
	debugDataOff := debugDirOff + uint32(28*len(debugData))

	cli := make([]byte, cliHeaderSize)
	binary.LittleEndian.PutUint32(cli[0:], cliHeaderSize)
	binary.LittleEndian.PutUint16(cli[4:], 2)
	binary.LittleEndian.PutUint16(cli[6:], 5)
	binary.LittleEndian.PutUint32(cli[8:], textRVA+mdOff)
	binary.LittleEndian.PutUint32(cli[12:], uint32(len(md)))
	binary.LittleEndian.PutUint32(cli[16:], 1) // IL only
	text.Write(cli)
	text.Write(md)
	pad(&text, int(debugDirOff))

	off := debugDataOff
	for i, d := range debugData {
		e := make([]byte, 28)
		binary.LittleEndian.PutUint32(e[12:], uint32(debugTypes[i]))
		if debugTypes[i] == clr.DebugEmbeddedPDB {
			binary.LittleEndian.PutUint16(e[8:], 0x0100)
			binary.LittleEndian.PutUint16(e[10:], 0x0100)
		}
		binary.LittleEndian.PutUint32(e[16:], uint32(len(d)))
		binary.LittleEndian.PutUint32(e[20:], textRVA+off)
		binary.LittleEndian.PutUint32(e[24:], fileAlignment+off)
		text.Write(e)
		off = align(off+uint32(len(d)), 4)
	}
	for _, d := range debugData {
		text.Write(d)
		pad(&text, int(align(uint32(text.Len()), 4)))
	}

	var dirs [16]pe.DataDirectory
	dirs[14] = pe.DataDirectory{VirtualAddress: textRVA, Size: cliHeaderSize}
	if len(debugData) > 0 {
		dirs[6] = pe.DataDirectory{VirtualAddress: textRVA + debugDirOff, Size: uint32(28 * len(debugData))}
	}
	return image(text.Bytes(), dirs)
}

// image wraps the .text section in DOS, COFF and optional headers.
func image(text []byte, dirs [16]pe.DataDirectory) []byte {
	rawSize := align(uint32(len(text)), fileAlignment)

	var buf bytes.Buffer
	dos := make([]byte, 0x80)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3C:], 0x80)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
	write(pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     1,
		SizeOfOptionalHeader: 224,
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE | pe.IMAGE_FILE_DLL,
	})
	write(pe.OptionalHeader32{
		Magic:                 0x10b,
		SizeOfCode:            rawSize,
		BaseOfCode:            textRVA,
		ImageBase:             0x10000000,
		SectionAlignment:      textRVA,
		FileAlignment:         fileAlignment,
		MajorSubsystemVersion: 4,
		SizeOfImage:           textRVA + align(uint32(len(text)), textRVA),
		SizeOfHeaders:         fileAlignment,
		Subsystem:             pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		NumberOfRvaAndSizes:   16,
		DataDirectory:         dirs,
	})
	write(pe.SectionHeader32{
		Name:             [8]uint8{'.', 't', 'e', 'x', 't'},
		VirtualSize:      uint32(len(text)),
		VirtualAddress:   textRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: fileAlignment,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	})
	pad(&buf, fileAlignment)
	buf.Write(text)
	pad(&buf, int(fileAlignment+rawSize))
	return buf.Bytes()
}

// heaps accumulates the #Strings, #Blob and #GUID heaps.
type heaps struct {
	strings  bytes.Buffer
	stringIx map[string]uint16
	blob     bytes.Buffer
	guid     bytes.Buffer
}

func newHeaps() *heaps {
	h := &heaps{stringIx: map[string]uint16{"": 0}}
	h.strings.WriteByte(0)
	h.blob.WriteByte(0)
	return h
}

func (h *heaps) str(s string) uint16 {
	if i, ok := h.stringIx[s]; ok {
		return i
	}
	i := uint16(h.strings.Len())
	h.strings.WriteString(s)
	h.strings.WriteByte(0)
	h.stringIx[s] = i
	return i
}

func (h *heaps) addBlob(b []byte) uint16 {
	i := uint16(h.blob.Len())
	h.blob.Write(clr.AppendCompressed(nil, uint32(len(b))))
	h.blob.Write(b)
	return i
}

func (h *heaps) addGUID(u uuid.UUID) uint16 {
	h.guid.Write(clr.GUIDBytes(u))
	return uint16(h.guid.Len() / 16)
}

// metadata produces the metadata root. Every heap and table is small, so all
// indexes are two bytes wide.
func (b *Builder) metadata() []byte {
	h := newHeaps()

	// Attribute types become TypeRef rows with one .ctor MemberRef each.
	attrTypes := map[string]int{}
	var attrOrder []Attr
	collect := func(attrs []Attr) {
		for _, a := range attrs {
			key := attrKey(a)
			if _, ok := attrTypes[key]; !ok {
				attrTypes[key] = len(attrOrder) + 1
				attrOrder = append(attrOrder, a)
			}
		}
	}
	collect(b.asmAttrs)
	for _, t := range b.types {
		collect(t.def.attrs)
		for _, m := range t.def.methods {
			collect(m.attrs)
		}
	}
	ctorOf := func(a Attr) int {
		return attrTypes[attrKey(a)]
	}

	var module, typeRef, typeDefs, methodDefs, memberRef, assembly, assemblyRefs bytes.Buffer
	u16 := func(w *bytes.Buffer, v uint16) { _ = binary.Write(w, binary.LittleEndian, v) }
	u32 := func(w *bytes.Buffer, v uint32) { _ = binary.Write(w, binary.LittleEndian, v) }

	// Module
	u16(&module, 0)
	u16(&module, h.str(b.name+".dll"))
	u16(&module, h.addGUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(b.name))))
	u16(&module, 0)
	u16(&module, 0)

	for _, a := range attrOrder {
		u16(&typeRef, 0) // resolution scope
		u16(&typeRef, h.str(a.Name))
		u16(&typeRef, h.str(a.Namespace))
	}
	for i, a := range attrOrder {
		sig := []byte{0x20, byte(len(a.Args)), 0x01}
		for range a.Args {
			sig = append(sig, 0x0E)
		}
		u16(&memberRef, uint16((i+1)<<3|1)) // MemberRefParent: TypeRef
		u16(&memberRef, h.str(".ctor"))
		u16(&memberRef, h.addBlob(sig))
	}

	type caRow struct{ parent, ctor, value uint16 }
	var cas []caRow
	addAttrs := func(parent uint16, attrs []Attr) {
		for _, a := range attrs {
			val := []byte{0x01, 0x00}
			for _, s := range a.Args {
				val = clr.AppendSerString(val, s)
			}
			val = append(val, 0x00, 0x00)
			cas = append(cas, caRow{
				parent: parent,
				ctor:   uint16(ctorOf(a)<<3 | 3), // CustomAttributeType: MemberRef
				value:  h.addBlob(val),
			})
		}
	}

	// <Module> comes first.
	types := append([]*TypeBuilder{{def: typeDef{name: "<Module>"}}}, b.types...)
	methodRow := 1
	for i, t := range types {
		typeRow := i + 1
		u32(&typeDefs, 0x00100001) // public, beforefieldinit
		u16(&typeDefs, h.str(t.def.name))
		u16(&typeDefs, h.str(t.def.namespace))
		u16(&typeDefs, 0) // extends
		u16(&typeDefs, 1) // field list
		u16(&typeDefs, uint16(methodRow))
		addAttrs(uint16(typeRow<<5|3), t.def.attrs)

		for _, m := range t.def.methods {
			u32(&methodDefs, 0)
			u16(&methodDefs, 0)
			u16(&methodDefs, 0x0096) // public static hidebysig
			u16(&methodDefs, h.str(m.name))
			u16(&methodDefs, h.addBlob([]byte{0x00, 0x00, 0x01}))
			u16(&methodDefs, 1) // param list
			addAttrs(uint16(methodRow<<5), m.attrs)
			methodRow++
		}
	}
	addAttrs(1<<5|14, b.asmAttrs)

	sort.SliceStable(cas, func(i, j int) bool { return cas[i].parent < cas[j].parent })
	var customAttrs bytes.Buffer
	for _, ca := range cas {
		u16(&customAttrs, ca.parent)
		u16(&customAttrs, ca.ctor)
		u16(&customAttrs, ca.value)
	}

	u32(&assembly, 0x8004)
	for _, v := range b.version {
		u16(&assembly, v)
	}
	u32(&assembly, 0)
	u16(&assembly, 0)
	u16(&assembly, h.str(b.name))
	u16(&assembly, 0)

	for _, r := range b.refs {
		for _, v := range r.version {
			u16(&assemblyRefs, v)
		}
		u32(&assemblyRefs, 0)
		u16(&assemblyRefs, 0)
		u16(&assemblyRefs, h.str(r.name))
		u16(&assemblyRefs, 0)
		u16(&assemblyRefs, 0)
	}

	tables := []struct {
		id   clr.Table
		rows int
		data []byte
	}{
		{clr.TableModule, 1, module.Bytes()},
		{clr.TableTypeRef, len(attrOrder), typeRef.Bytes()},
		{clr.TableTypeDef, len(types), typeDefs.Bytes()},
		{clr.TableMethodDef, methodRow - 1, methodDefs.Bytes()},
		{clr.TableMemberRef, len(attrOrder), memberRef.Bytes()},
		{clr.TableCustomAttribute, len(cas), customAttrs.Bytes()},
		{clr.TableAssembly, 1, assembly.Bytes()},
		{clr.TableAssemblyRef, len(b.refs), assemblyRefs.Bytes()},
	}

	var ts bytes.Buffer
	u32(&ts, 0)
	ts.Write([]byte{2, 0, 0, 1})
	var valid uint64
	for _, t := range tables {
		if t.rows > 0 {
			valid |= 1 << uint(t.id)
		}
	}
	_ = binary.Write(&ts, binary.LittleEndian, valid)
	_ = binary.Write(&ts, binary.LittleEndian, uint64(0))
	for _, t := range tables {
		if t.rows > 0 {
			u32(&ts, uint32(t.rows))
		}
	}
	for _, t := range tables {
		if t.rows > 0 {
			ts.Write(t.data)
		}
	}

	return MetadataRoot([]Stream{
		{Name: "#~", Data: ts.Bytes()},
		{Name: "#Strings", Data: h.strings.Bytes()},
		{Name: "#US", Data: []byte{0}},
		{Name: "#GUID", Data: h.guid.Bytes()},
		{Name: "#Blob", Data: h.blob.Bytes()},
	})
}

// Stream is a named metadata stream.
type Stream struct {
	Name string
	Data []byte
}

// MetadataRoot lays out a BSJB metadata root with the given streams.
func MetadataRoot(streams []Stream) []byte {
	version := []byte("v4.0.30319\x00\x00")

	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + int(align(uint32(len(s.Name)+1), 4))
	}

	var buf bytes.Buffer
	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	le(uint32(0x424A5342))
	le(uint16(1))
	le(uint16(1))
	le(uint32(0))
	le(uint32(len(version)))
	buf.Write(version)
	le(uint16(0))
	le(uint16(len(streams)))

	off := uint32(headerSize)
	for _, s := range streams {
		size := align(uint32(len(s.Data)), 4)
		le(off)
		le(size)
		buf.WriteString(s.Name)
		buf.WriteByte(0)
		pad(&buf, int(align(uint32(buf.Len()), 4)))
		off += size
	}
	for _, s := range streams {
		buf.Write(s.Data)
		pad(&buf, int(align(uint32(buf.Len()), 4)))
	}
	return buf.Bytes()
}

// csharpLanguage is the document language GUID for C# sources.
var csharpLanguage = uuid.MustParse("3F5162F8-07C6-11D3-9053-00C04FA302A1")

// PortablePDB returns a minimal portable PDB. With sourceLink, the Source
// Link custom debug information kind is present in the #GUID heap.
func PortablePDB(sourceLink bool) []byte {
	guids := clr.GUIDBytes(csharpLanguage)
	if sourceLink {
		guids = append(guids, clr.GUIDBytes(clr.SourceLinkKind)...)
	}
	pdbStream := make([]byte, 32)
	copy(pdbStream, []byte("pdb-id-for-tests-000"))
	return MetadataRoot([]Stream{
		{Name: "#Pdb", Data: pdbStream},
		{Name: "#Strings", Data: []byte{0}},
		{Name: "#GUID", Data: guids},
		{Name: "#Blob", Data: []byte{0}},
	})
}

// WindowsPDB returns bytes that look like an MSF container. With sourceLink,
// the named stream table lists a sourcelink stream.
func WindowsPDB(sourceLink bool) []byte {
	buf := []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, "/names\x00/LinkInfo\x00"...)
	if sourceLink {
		buf = append(buf, "sourcelink\x00"...)
	}
	return buf
}

// attrKey identifies an attribute constructor by type and arity.
func attrKey(a Attr) string {
	return fmt.Sprintf("%s.%s/%d", a.Namespace, a.Name, len(a.Args))
}

func align(n, a uint32) uint32 {
	return (n + a - 1) &^ (a - 1)
}

func pad(buf *bytes.Buffer, to int) {
	for buf.Len() < to {
		buf.WriteByte(0)
	}
}
