// Package testutil builds small in-memory JAR archives and class files for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

// File is one archive entry in insertion order.
type File struct {
	Name string
	Data []byte
}

// ClassSpec describes the constant-pool content of a generated class.
// MemberRefs use "owner/Class.name" form.
type ClassSpec struct {
	Name       string
	Super      string
	Strings    []string
	MemberRefs []string
	Fields     []string
	Methods    []string
}

type poolBuilder struct {
	buf   bytes.Buffer
	count uint16
	utf8  map[string]uint16
	class map[string]uint16
}

func newPool() *poolBuilder {
	return &poolBuilder{count: 1, utf8: map[string]uint16{}, class: map[string]uint16{}}
}

func (p *poolBuilder) u2(v uint16) {
	binary.Write(&p.buf, binary.BigEndian, v)
}

func (p *poolBuilder) addUtf8(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}
	p.buf.WriteByte(1)
	p.u2(uint16(len(s)))
	p.buf.WriteString(s)
	idx := p.count
	p.count++
	p.utf8[s] = idx
	return idx
}

func (p *poolBuilder) addClass(name string) uint16 {
	if idx, ok := p.class[name]; ok {
		return idx
	}
	nameIdx := p.addUtf8(name)
	p.buf.WriteByte(7)
	p.u2(nameIdx)
	idx := p.count
	p.count++
	p.class[name] = idx
	return idx
}

func (p *poolBuilder) addString(s string) {
	utf := p.addUtf8(s)
	p.buf.WriteByte(8)
	p.u2(utf)
	p.count++
}

func (p *poolBuilder) addMethodRef(owner, name string) {
	classIdx := p.addClass(owner)
	nameIdx := p.addUtf8(name)
	descIdx := p.addUtf8("()V")
	p.buf.WriteByte(12)
	p.u2(nameIdx)
	p.u2(descIdx)
	natIdx := p.count
	p.count++
	p.buf.WriteByte(10)
	p.u2(classIdx)
	p.u2(natIdx)
	p.count++
}

// BuildClass returns a minimal but well-formed class file.
func BuildClass(spec ClassSpec) []byte {
	super := spec.Super
	if super == "" {
		super = "java/lang/Object"
	}

	pool := newPool()
	thisIdx := pool.addClass(spec.Name)
	superIdx := pool.addClass(super)
	for _, s := range spec.Strings {
		pool.addString(s)
	}
	for _, ref := range spec.MemberRefs {
		idx := strings.LastIndex(ref, ".")
		pool.addMethodRef(ref[:idx], ref[idx+1:])
	}
	descIdx := pool.addUtf8("()V")
	fieldDesc := pool.addUtf8("I")
	fieldIdx := make([]uint16, len(spec.Fields))
	for i, f := range spec.Fields {
		fieldIdx[i] = pool.addUtf8(f)
	}
	methodIdx := make([]uint16, len(spec.Methods))
	for i, m := range spec.Methods {
		methodIdx[i] = pool.addUtf8(m)
	}

	var out bytes.Buffer
	w := func(v interface{}) { binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(uint16(0))  // minor
	w(uint16(52)) // Java 8
	w(pool.count)
	out.Write(pool.buf.Bytes())
	w(uint16(0x0021)) // public super
	w(thisIdx)
	w(superIdx)
	w(uint16(0)) // interfaces

	w(uint16(len(fieldIdx)))
	for _, idx := range fieldIdx {
		w(uint16(0x0002))
		w(idx)
		w(fieldDesc)
		w(uint16(0))
	}
	w(uint16(len(methodIdx)))
	for _, idx := range methodIdx {
		w(uint16(0x0001))
		w(idx)
		w(descIdx)
		w(uint16(0))
	}
	w(uint16(0)) // class attributes
	return out.Bytes()
}

// BuildJar zips files in order.
func BuildJar(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("create %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("write %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// ClassFile is a shortcut for a class entry named after spec.Name.
func ClassFile(spec ClassSpec) File {
	return File{Name: spec.Name + ".class", Data: BuildClass(spec)}
}

// Manifest renders a MANIFEST.MF entry from key/value pairs.
func Manifest(pairs ...string) File {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString(pairs[i])
		b.WriteString(": ")
		b.WriteString(pairs[i+1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return File{Name: "META-INF/MANIFEST.MF", Data: []byte(b.String())}
}
