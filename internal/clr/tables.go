package clr

import (
	"fmt"
	"math/bits"
)

// Table identifies a metadata table.
type Table uint8

const (
	TableModule                 Table = 0x00
	TableTypeRef                Table = 0x01
	TableTypeDef                Table = 0x02
	TableFieldPtr               Table = 0x03
	TableField                  Table = 0x04
	TableMethodPtr              Table = 0x05
	TableMethodDef              Table = 0x06
	TableParamPtr               Table = 0x07
	TableParam                  Table = 0x08
	TableInterfaceImpl          Table = 0x09
	TableMemberRef              Table = 0x0A
	TableConstant               Table = 0x0B
	TableCustomAttribute        Table = 0x0C
	TableFieldMarshal           Table = 0x0D
	TableDeclSecurity           Table = 0x0E
	TableClassLayout            Table = 0x0F
	TableFieldLayout            Table = 0x10
	TableStandAloneSig          Table = 0x11
	TableEventMap               Table = 0x12
	TableEventPtr               Table = 0x13
	TableEvent                  Table = 0x14
	TablePropertyMap            Table = 0x15
	TablePropertyPtr            Table = 0x16
	TableProperty               Table = 0x17
	TableMethodSemantics        Table = 0x18
	TableMethodImpl             Table = 0x19
	TableModuleRef              Table = 0x1A
	TableTypeSpec               Table = 0x1B
	TableImplMap                Table = 0x1C
	TableFieldRVA               Table = 0x1D
	TableEncLog                 Table = 0x1E
	TableEncMap                 Table = 0x1F
	TableAssembly               Table = 0x20
	TableAssemblyProcessor      Table = 0x21
	TableAssemblyOS             Table = 0x22
	TableAssemblyRef            Table = 0x23
	TableAssemblyRefProcessor   Table = 0x24
	TableAssemblyRefOS          Table = 0x25
	TableFile                   Table = 0x26
	TableExportedType           Table = 0x27
	TableManifestResource       Table = 0x28
	TableNestedClass            Table = 0x29
	TableGenericParam           Table = 0x2A
	TableMethodSpec             Table = 0x2B
	TableGenericParamConstraint Table = 0x2C

	numTables = 64
	// Tables past GenericParamConstraint only appear in portable PDBs and
	// have no layout here.
	lastKnownTable = TableGenericParamConstraint
)

// codedIndex is a tagged reference into one of several tables. A none entry
// marks an unused tag value.
type codedIndex struct {
	bits   uint
	tables []Table
}

const none Table = 0xFF

var (
	ciTypeDefOrRef        = codedIndex{2, []Table{TableTypeDef, TableTypeRef, TableTypeSpec}}
	ciHasConstant         = codedIndex{2, []Table{TableField, TableParam, TableProperty}}
	ciHasCustomAttribute  = codedIndex{5, []Table{TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl, TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig, TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType, TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec}}
	ciHasFieldMarshal     = codedIndex{1, []Table{TableField, TableParam}}
	ciHasDeclSecurity     = codedIndex{2, []Table{TableTypeDef, TableMethodDef, TableAssembly}}
	ciMemberRefParent     = codedIndex{3, []Table{TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec}}
	ciHasSemantics        = codedIndex{1, []Table{TableEvent, TableProperty}}
	ciMethodDefOrRef      = codedIndex{1, []Table{TableMethodDef, TableMemberRef}}
	ciMemberForwarded     = codedIndex{1, []Table{TableField, TableMethodDef}}
	ciImplementation      = codedIndex{2, []Table{TableFile, TableAssemblyRef, TableExportedType}}
	ciCustomAttributeType = codedIndex{3, []Table{none, none, TableMethodDef, TableMemberRef, none}}
	ciResolutionScope     = codedIndex{2, []Table{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}}
	ciTypeOrMethodDef     = codedIndex{1, []Table{TableTypeDef, TableMethodDef}}
)

type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type column struct {
	kind  colKind
	table Table
	coded *codedIndex
}

var (
	cU16   = column{kind: colU16}
	cU32   = column{kind: colU32}
	cStr   = column{kind: colString}
	cGUID  = column{kind: colGUID}
	cBlob  = column{kind: colBlob}
	cIdx   = func(t Table) column { return column{kind: colTable, table: t} }
	cCoded = func(ci *codedIndex) column { return column{kind: colCoded, coded: ci} }
	schema = [lastKnownTable + 1][]column{
		TableModule:                 {cU16, cStr, cGUID, cGUID, cGUID},
		TableTypeRef:                {cCoded(&ciResolutionScope), cStr, cStr},
		TableTypeDef:                {cU32, cStr, cStr, cCoded(&ciTypeDefOrRef), cIdx(TableField), cIdx(TableMethodDef)},
		TableFieldPtr:               {cIdx(TableField)},
		TableField:                  {cU16, cStr, cBlob},
		TableMethodPtr:              {cIdx(TableMethodDef)},
		TableMethodDef:              {cU32, cU16, cU16, cStr, cBlob, cIdx(TableParam)},
		TableParamPtr:               {cIdx(TableParam)},
		TableParam:                  {cU16, cU16, cStr},
		TableInterfaceImpl:          {cIdx(TableTypeDef), cCoded(&ciTypeDefOrRef)},
		TableMemberRef:              {cCoded(&ciMemberRefParent), cStr, cBlob},
		TableConstant:               {cU16, cCoded(&ciHasConstant), cBlob},
		TableCustomAttribute:        {cCoded(&ciHasCustomAttribute), cCoded(&ciCustomAttributeType), cBlob},
		TableFieldMarshal:           {cCoded(&ciHasFieldMarshal), cBlob},
		TableDeclSecurity:           {cU16, cCoded(&ciHasDeclSecurity), cBlob},
		TableClassLayout:            {cU16, cU32, cIdx(TableTypeDef)},
		TableFieldLayout:            {cU32, cIdx(TableField)},
		TableStandAloneSig:          {cBlob},
		TableEventMap:               {cIdx(TableTypeDef), cIdx(TableEvent)},
		TableEventPtr:               {cIdx(TableEvent)},
		TableEvent:                  {cU16, cStr, cCoded(&ciTypeDefOrRef)},
		TablePropertyMap:            {cIdx(TableTypeDef), cIdx(TableProperty)},
		TablePropertyPtr:            {cIdx(TableProperty)},
		TableProperty:               {cU16, cStr, cBlob},
		TableMethodSemantics:        {cU16, cIdx(TableMethodDef), cCoded(&ciHasSemantics)},
		TableMethodImpl:             {cIdx(TableTypeDef), cCoded(&ciMethodDefOrRef), cCoded(&ciMethodDefOrRef)},
		TableModuleRef:              {cStr},
		TableTypeSpec:               {cBlob},
		TableImplMap:                {cU16, cCoded(&ciMemberForwarded), cStr, cIdx(TableModuleRef)},
		TableFieldRVA:               {cU32, cIdx(TableField)},
		TableEncLog:                 {cU32, cU32},
		TableEncMap:                 {cU32},
		TableAssembly:               {cU32, cU16, cU16, cU16, cU16, cU32, cBlob, cStr, cStr},
		TableAssemblyProcessor:      {cU32},
		TableAssemblyOS:             {cU32, cU32, cU32},
		TableAssemblyRef:            {cU16, cU16, cU16, cU16, cU32, cBlob, cStr, cStr, cBlob},
		TableAssemblyRefProcessor:   {cU32, cIdx(TableAssemblyRef)},
		TableAssemblyRefOS:          {cU32, cU32, cU32, cIdx(TableAssemblyRef)},
		TableFile:                   {cU32, cStr, cBlob},
		TableExportedType:           {cU32, cU32, cStr, cStr, cCoded(&ciImplementation)},
		TableManifestResource:       {cU32, cU32, cStr, cCoded(&ciImplementation)},
		TableNestedClass:            {cIdx(TableTypeDef), cIdx(TableTypeDef)},
		TableGenericParam:           {cU16, cU16, cCoded(&ciTypeOrMethodDef), cStr},
		TableMethodSpec:             {cCoded(&ciMethodDefOrRef), cBlob},
		TableGenericParamConstraint: {cIdx(TableGenericParam), cCoded(&ciTypeDefOrRef)},
	}
)

// tableInfo is the computed layout of one table inside the #~ stream.
type tableInfo struct {
	rows    uint32
	rowSize int
	data    []byte
	offsets []int
	widths  []int
}

type tables struct {
	heapSizes uint8
	rows      [numTables]uint32
	info      [lastKnownTable + 1]tableInfo
}

func parseTables(data []byte) (*tables, error) {
	r := reader{data: data, pos: 6}
	heapSizes, err := r.u8()
	if err != nil {
		return nil, err
	}
	r.pos++ // reserved
	valid, err := r.u64()
	if err != nil {
		return nil, err
	}
	if _, err := r.u64(); err != nil { // sorted
		return nil, err
	}

	t := &tables{heapSizes: heapSizes}
	for i := 0; i < numTables; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		t.rows[i] = n
	}
	if valid>>(lastKnownTable+1) != 0 {
		return nil, fmt.Errorf("%w: unsupported tables 0x%x", ErrFormat, valid>>(lastKnownTable+1))
	}
	if heapSizes&0x40 != 0 {
		r.pos += 4
	}

	for i := Table(0); i <= lastKnownTable; i++ {
		info := &t.info[i]
		info.rows = t.rows[i]
		for _, c := range schema[i] {
			w := t.width(c)
			info.offsets = append(info.offsets, info.rowSize)
			info.widths = append(info.widths, w)
			info.rowSize += w
		}
		size := int(info.rows) * info.rowSize
		b, err := r.bytes(size)
		if err != nil {
			return nil, fmt.Errorf("table 0x%02x: %w", uint8(i), err)
		}
		info.data = b
	}
	return t, nil
}

func (t *tables) width(c column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return t.heapWidth(0x01)
	case colGUID:
		return t.heapWidth(0x02)
	case colBlob:
		return t.heapWidth(0x04)
	case colTable:
		if t.rows[c.table] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		var most uint32
		for _, tbl := range c.coded.tables {
			if tbl != none && t.rows[tbl] > most {
				most = t.rows[tbl]
			}
		}
		if bits.Len32(most) > 16-int(c.coded.bits) {
			return 4
		}
		return 2
	}
	return 0
}

func (t *tables) heapWidth(flag uint8) int {
	if t.heapSizes&flag != 0 {
		return 4
	}
	return 2
}

// Rows returns the number of rows in table tbl.
func (md *Metadata) Rows(tbl Table) uint32 {
	if md.tables == nil || tbl > lastKnownTable {
		return 0
	}
	return md.tables.info[tbl].rows
}

// cell returns column col of the 1-based row in tbl.
func (md *Metadata) cell(tbl Table, row uint32, col int) uint32 {
	info := &md.tables.info[tbl]
	if row == 0 || row > info.rows || col >= len(info.offsets) {
		return 0
	}
	p := info.data[int(row-1)*info.rowSize+info.offsets[col]:]
	if info.widths[col] == 4 {
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	}
	return uint32(p[0]) | uint32(p[1])<<8
}

// decode splits a coded index value into its table and 1-based row.
func (ci *codedIndex) decode(v uint32) (Table, uint32) {
	tag := v & (1<<ci.bits - 1)
	if int(tag) >= len(ci.tables) {
		return none, 0
	}
	return ci.tables[tag], v >> ci.bits
}
