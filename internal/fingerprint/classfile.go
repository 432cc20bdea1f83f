// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const classMagic = 0xCAFEBABE

// Constant pool tags.
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

const (
	attrVisibleAnnotations   = "RuntimeVisibleAnnotations"
	attrInvisibleAnnotations = "RuntimeInvisibleAnnotations"
)

// ErrMalformedClass is returned for input that is not a valid class file.
var ErrMalformedClass = errors.New("malformed class file")

type (
	// Member is a field or method of a class with the descriptors of the
	// annotations attached to it, e.g. "Ljavax/inject/Inject;".
	Member struct {
		Name        string
		Descriptor  string
		Annotations []string
	}

	// ClassFile holds the parts of a compiled class the snapshot reads.
	ClassFile struct {
		Fields  []Member
		Methods []Member
	}

	classReader struct {
		data []byte
		pos  int
		err  error
		utf8 map[uint16]string
	}
)

// ParseClass decodes fields, methods and their annotations from class file
// bytes. Everything else is skipped.
func ParseClass(data []byte) (*ClassFile, error) {
	r := &classReader{data: data, utf8: make(map[uint16]string)}

	if r.u4() != classMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedClass)
	}
	r.skip(4) // minor, major
	r.readConstantPool()
	r.skip(6) // access flags, this, super
	r.skip(2 * int(r.u2()))

	cf := &ClassFile{}
	cf.Fields = r.readMembers()
	cf.Methods = r.readMembers()
	if r.err != nil {
		return nil, r.err
	}
	return cf, nil
}

func (r *classReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s at offset %d", ErrMalformedClass, fmt.Sprintf(format, args...), r.pos)
	}
}

func (r *classReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.fail("truncated")
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *classReader) skip(n int) { r.take(n) }

func (r *classReader) u1() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *classReader) u2() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *classReader) u4() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *classReader) str(index uint16) string {
	s, ok := r.utf8[index]
	if !ok {
		r.fail("constant %d is not a UTF-8 entry", index)
	}
	return s
}

func (r *classReader) readConstantPool() {
	count := r.u2()
	for i := uint16(1); i < count && r.err == nil; i++ {
		switch tag := r.u1(); tag {
		case tagUtf8:
			n := r.u2()
			r.utf8[i] = string(r.take(int(n)))
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			r.skip(2)
		case tagMethodHandle:
			r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			r.skip(4)
		case tagLong, tagDouble:
			// Eight-byte constants occupy two pool slots.
			r.skip(8)
			i++
		default:
			r.fail("unknown constant pool tag %d", tag)
		}
	}
}

func (r *classReader) readMembers() []Member {
	count := int(r.u2())
	members := make([]Member, 0, count)
	for range count {
		if r.err != nil {
			return nil
		}
		r.skip(2) // access flags
		m := Member{Name: r.str(r.u2()), Descriptor: r.str(r.u2())}
		attrs := int(r.u2())
		for range attrs {
			name := r.str(r.u2())
			length := int(r.u4())
			if name == attrVisibleAnnotations || name == attrInvisibleAnnotations {
				end := r.pos + length
				m.Annotations = append(m.Annotations, r.readAnnotations()...)
				if r.err == nil && r.pos != end {
					r.fail("annotation attribute length mismatch")
				}
				continue
			}
			r.skip(length)
		}
		members = append(members, m)
	}
	return members
}

func (r *classReader) readAnnotations() []string {
	count := int(r.u2())
	types := make([]string, 0, count)
	for range count {
		types = append(types, r.readAnnotation())
	}
	return types
}

func (r *classReader) readAnnotation() string {
	typ := r.str(r.u2())
	pairs := int(r.u2())
	for range pairs {
		r.skip(2) // element name
		r.skipElementValue()
	}
	return typ
}

func (r *classReader) skipElementValue() {
	if r.err != nil {
		return
	}
	switch tag := r.u1(); tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		r.skip(2)
	case 'e':
		r.skip(4)
	case '@':
		r.readAnnotation()
	case '[':
		n := int(r.u2())
		for range n {
			r.skipElementValue()
		}
	default:
		r.fail("unknown element value tag %q", tag)
	}
}
