package clr

import (
	"os"
	"strconv"
	"strings"

	"github.com/git-pkgs/addinaudit/internal/semver"
)

const methodStatic = 0x0010

// TypeName is a namespace-qualified type name.
type TypeName struct {
	Namespace string
	Name      string
}

// FullName returns Namespace.Name, or Name for types in the global namespace.
func (t TypeName) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (t TypeName) String() string {
	return t.FullName()
}

// AssemblyRef is an entry of the AssemblyRef table.
type AssemblyRef struct {
	Name           string
	Version        semver.Version
	Culture        string
	PublicKeyToken []byte
}

// Method is a method defined in the assembly.
type Method struct {
	Name   string
	Static bool
}

// Type is a type defined in the assembly with its methods.
type Type struct {
	TypeName
	Methods []Method
}

// TargetKind says what a custom attribute is attached to.
type TargetKind uint8

const (
	TargetOther TargetKind = iota
	TargetAssembly
	TargetModule
	TargetType
	TargetMethod
	TargetProperty
)

// Target identifies the element an attribute decorates. Type is the
// decorated type, or the declaring type of a decorated method.
type Target struct {
	Kind   TargetKind
	Type   TypeName
	Member string
}

// Attribute is one decoded custom attribute.
type Attribute struct {
	Type   TypeName
	Target Target
	// Fixed constructor arguments. Decoding stops at the first argument of a
	// type that cannot be sized without resolving external types, so Args may
	// be shorter than the constructor's parameter list.
	Args []any
}

// Assembly is the reflected view of a managed assembly.
type Assembly struct {
	Name            string
	Version         semver.Version
	Culture         string
	TargetFramework string
	References      []AssemblyRef
	Types           []Type
	Attributes      []Attribute

	image *Image
}

// LoadFile reads the assembly at path.
func LoadFile(path string) (*Assembly, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load reflects over the assembly image in data. Each call builds its own
// state; nothing is shared between loaded assemblies.
func Load(data []byte) (*Assembly, error) {
	img, err := Parse(data)
	if err != nil {
		return nil, err
	}
	md := img.Metadata()
	if md.tables == nil {
		return nil, ErrNotManaged
	}

	a := &Assembly{image: img}
	if md.Rows(TableAssembly) > 0 {
		a.Name = md.String(md.cell(TableAssembly, 1, 7))
		a.Culture = md.String(md.cell(TableAssembly, 1, 8))
		a.Version = fourPartVersion(md, TableAssembly, 1, 1)
	}

	for row := uint32(1); row <= md.Rows(TableAssemblyRef); row++ {
		a.References = append(a.References, AssemblyRef{
			Name:           md.String(md.cell(TableAssemblyRef, row, 6)),
			Culture:        md.String(md.cell(TableAssemblyRef, row, 7)),
			Version:        fourPartVersion(md, TableAssemblyRef, row, 0),
			PublicKeyToken: md.Blob(md.cell(TableAssemblyRef, row, 5)),
		})
	}

	owners := a.loadTypes(md)
	a.loadAttributes(md, owners)

	for _, attr := range a.Attributes {
		if attr.Target.Kind == TargetAssembly &&
			attr.Type.FullName() == "System.Runtime.Versioning.TargetFrameworkAttribute" &&
			len(attr.Args) > 0 {
			if s, ok := attr.Args[0].(string); ok {
				a.TargetFramework = s
			}
		}
	}
	return a, nil
}

// Image returns the underlying PE image.
func (a *Assembly) Image() *Image {
	return a.image
}

// Reference returns the reference to the named assembly, compared
// case-insensitively.
func (a *Assembly) Reference(name string) (AssemblyRef, bool) {
	for _, r := range a.References {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return AssemblyRef{}, false
}

// AttributesNamed returns the attributes whose type's simple or full name is
// name.
func (a *Assembly) AttributesNamed(name string) []Attribute {
	var out []Attribute
	for _, attr := range a.Attributes {
		if attr.Type.Name == name || attr.Type.FullName() == name {
			out = append(out, attr)
		}
	}
	return out
}

// FrameworkMoniker converts the TargetFramework attribute value to a short
// framework moniker such as netstandard2.0, net6.0 or net461.
func (a *Assembly) FrameworkMoniker() string {
	return FrameworkMoniker(a.TargetFramework)
}

// FrameworkMoniker converts a long framework name such as
// ".NETStandard,Version=v2.0" to its short form.
func FrameworkMoniker(long string) string {
	ident, version, ok := strings.Cut(long, ",Version=v")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(version, ','); i >= 0 {
		version = version[:i]
	}
	switch ident {
	case ".NETStandard":
		return "netstandard" + version
	case ".NETCoreApp":
		major, _, _ := strings.Cut(version, ".")
		if n, err := strconv.Atoi(major); err == nil && n >= 5 {
			return "net" + version
		}
		return "netcoreapp" + version
	case ".NETFramework":
		return "net" + strings.ReplaceAll(version, ".", "")
	}
	return ""
}

// loadTypes reads TypeDef and MethodDef and returns the owning type of every
// method row.
func (a *Assembly) loadTypes(md *Metadata) []TypeName {
	typeRows := md.Rows(TableTypeDef)
	methodRows := md.Rows(TableMethodDef)
	owners := make([]TypeName, methodRows+1)

	for row := uint32(1); row <= typeRows; row++ {
		t := Type{TypeName: typeDefName(md, row)}

		start := md.cell(TableTypeDef, row, 5)
		end := methodRows + 1
		if row < typeRows {
			end = md.cell(TableTypeDef, row+1, 5)
		}
		for m := start; m < end && m <= methodRows; m++ {
			if m == 0 {
				continue
			}
			owners[m] = t.TypeName
			t.Methods = append(t.Methods, Method{
				Name:   md.String(md.cell(TableMethodDef, m, 3)),
				Static: md.cell(TableMethodDef, m, 2)&methodStatic != 0,
			})
		}
		a.Types = append(a.Types, t)
	}
	return owners
}

func (a *Assembly) loadAttributes(md *Metadata, owners []TypeName) {
	for row := uint32(1); row <= md.Rows(TableCustomAttribute); row++ {
		parentTable, parentRow := ciHasCustomAttribute.decode(md.cell(TableCustomAttribute, row, 0))
		ctorTable, ctorRow := ciCustomAttributeType.decode(md.cell(TableCustomAttribute, row, 1))

		var attrType TypeName
		var sig []byte
		switch ctorTable {
		case TableMemberRef:
			attrType = memberRefParent(md, ctorRow)
			sig = md.Blob(md.cell(TableMemberRef, ctorRow, 2))
		case TableMethodDef:
			if int(ctorRow) < len(owners) {
				attrType = owners[ctorRow]
			}
			sig = md.Blob(md.cell(TableMethodDef, ctorRow, 4))
		default:
			continue
		}

		target := Target{Kind: TargetOther}
		switch parentTable {
		case TableAssembly:
			target.Kind = TargetAssembly
		case TableModule:
			target.Kind = TargetModule
		case TableTypeDef:
			target.Kind = TargetType
			target.Type = typeDefName(md, parentRow)
		case TableMethodDef:
			target.Kind = TargetMethod
			if int(parentRow) < len(owners) {
				target.Type = owners[parentRow]
			}
			target.Member = md.String(md.cell(TableMethodDef, parentRow, 3))
		case TableProperty:
			target.Kind = TargetProperty
			target.Member = md.String(md.cell(TableProperty, parentRow, 1))
		}

		args, _ := decodeFixedArgs(sig, md.Blob(md.cell(TableCustomAttribute, row, 2)))
		a.Attributes = append(a.Attributes, Attribute{
			Type:   attrType,
			Target: target,
			Args:   args,
		})
	}
}

func typeDefName(md *Metadata, row uint32) TypeName {
	return TypeName{
		Name:      md.String(md.cell(TableTypeDef, row, 1)),
		Namespace: md.String(md.cell(TableTypeDef, row, 2)),
	}
}

func typeRefName(md *Metadata, row uint32) TypeName {
	return TypeName{
		Name:      md.String(md.cell(TableTypeRef, row, 1)),
		Namespace: md.String(md.cell(TableTypeRef, row, 2)),
	}
}

func memberRefParent(md *Metadata, row uint32) TypeName {
	tbl, r := ciMemberRefParent.decode(md.cell(TableMemberRef, row, 0))
	switch tbl {
	case TableTypeRef:
		return typeRefName(md, r)
	case TableTypeDef:
		return typeDefName(md, r)
	}
	return TypeName{}
}

// fourPartVersion reads the Major, Minor, Build and Revision columns that
// start at col.
func fourPartVersion(md *Metadata, tbl Table, row uint32, col int) semver.Version {
	return semver.Version{
		Major:    int(md.cell(tbl, row, col)),
		Minor:    int(md.cell(tbl, row, col+1)),
		Patch:    int(md.cell(tbl, row, col+2)),
		Revision: int(md.cell(tbl, row, col+3)),
	}
}
