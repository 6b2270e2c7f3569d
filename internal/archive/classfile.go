package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedClass 类文件无法解析（单个类可恢复的错误）
var ErrMalformedClass = errors.New("malformed class file")

const classMagic = 0xCAFEBABE

// 常量池标签
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// ClassInfo 从字节码直接读取的类元数据，不依赖反编译
type ClassInfo struct {
	MajorVersion int
	MinorVersion int
	ClassName    string // 内部形式，例如 net/example/Foo
	SuperName    string
	Interfaces   []string
	Fields       []string
	Methods      []string
	Strings      []string // CONSTANT_String 字面量
	ClassRefs    []string // CONSTANT_Class 引用的类
	MemberRefs   []string // owner.name
}

// SimpleName 返回不含包名的类名
func (c *ClassInfo) SimpleName() string {
	name := c.ClassName
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

type cpEntry struct {
	tag  byte
	utf8 string
	a, b uint16
}

type classReader struct {
	data []byte
	pos  int
	err  error
}

func (r *classReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformedClass, r.pos)
		return false
	}
	return true
}

func (r *classReader) u1() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *classReader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *classReader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *classReader) skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

func (r *classReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v
}

// ParseClass 解析类文件的常量池、字段和方法表
func ParseClass(data []byte) (*ClassInfo, error) {
	r := &classReader{data: data}
	if r.u4() != classMagic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedClass)
	}

	info := &ClassInfo{}
	info.MinorVersion = int(r.u2())
	info.MajorVersion = int(r.u2())

	count := int(r.u2())
	pool := make([]cpEntry, count)
	for i := 1; i < count && r.err == nil; i++ {
		tag := r.u1()
		e := cpEntry{tag: tag}
		switch tag {
		case tagUtf8:
			n := int(r.u2())
			e.utf8 = string(r.bytes(n))
		case tagInteger, tagFloat:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			pool[i] = e
			i++ // 占两个槽位
			continue
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.a = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			e.a = r.u2()
			e.b = r.u2()
		case tagMethodHandle:
			r.skip(1)
			e.a = r.u2()
		default:
			if r.err == nil {
				r.err = fmt.Errorf("%w: unknown constant tag %d at index %d", ErrMalformedClass, tag, i)
			}
		}
		pool[i] = e
	}
	if r.err != nil {
		return nil, r.err
	}

	utf8At := func(idx uint16) string {
		if int(idx) <= 0 || int(idx) >= len(pool) || pool[idx].tag != tagUtf8 {
			return ""
		}
		return pool[idx].utf8
	}
	classAt := func(idx uint16) string {
		if int(idx) <= 0 || int(idx) >= len(pool) || pool[idx].tag != tagClass {
			return ""
		}
		return utf8At(pool[idx].a)
	}

	for i := 1; i < len(pool); i++ {
		e := pool[i]
		switch e.tag {
		case tagString:
			if s := utf8At(e.a); s != "" {
				info.Strings = append(info.Strings, s)
			}
		case tagClass:
			if s := utf8At(e.a); s != "" {
				info.ClassRefs = append(info.ClassRefs, s)
			}
		case tagFieldref, tagMethodref, tagInterfaceMethodref:
			owner := classAt(e.a)
			if int(e.b) > 0 && int(e.b) < len(pool) && pool[e.b].tag == tagNameAndType {
				name := utf8At(pool[e.b].a)
				if owner != "" && name != "" {
					info.MemberRefs = append(info.MemberRefs, owner+"."+name)
				}
			}
		}
	}

	r.skip(2) // access_flags
	info.ClassName = classAt(r.u2())
	info.SuperName = classAt(r.u2())

	ifaceCount := int(r.u2())
	for i := 0; i < ifaceCount && r.err == nil; i++ {
		if name := classAt(r.u2()); name != "" {
			info.Interfaces = append(info.Interfaces, name)
		}
	}

	info.Fields = readMembers(r, utf8At)
	info.Methods = readMembers(r, utf8At)
	if r.err != nil {
		return nil, r.err
	}
	if info.ClassName == "" {
		return nil, fmt.Errorf("%w: this_class does not resolve", ErrMalformedClass)
	}

	return info, nil
}

// readMembers 读取字段表或方法表，返回成员名
func readMembers(r *classReader, utf8At func(uint16) string) []string {
	count := int(r.u2())
	names := make([]string, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		r.skip(2) // access_flags
		name := utf8At(r.u2())
		r.skip(2) // descriptor
		attrCount := int(r.u2())
		for j := 0; j < attrCount && r.err == nil; j++ {
			r.skip(2)
			r.skip(int(r.u4()))
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
