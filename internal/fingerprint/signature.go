// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"encoding/binary"
	"fmt"
)

const (
	// SignatureField is the synthetic field stamped into every patched class,
	// so classes loaded from a patch can be told apart from installed ones.
	SignatureField = "$HOTPATCH_SIGNATURE_SYNTHETIC"
	// SignatureValue is the constant value of SignatureField.
	SignatureValue = "^._.^"

	signatureDescriptor = "Ljava/lang/String;"
	attrConstantValue   = "ConstantValue"

	// public static final
	signatureAccess = 0x0001 | 0x0008 | 0x0010

	maxConstantPool = 0xFFFF
)

// Sign returns data with SignatureField added as a public static final
// String constant. The boolean is false, and data is returned as is, when the
// class already carries the field.
func Sign(data []byte) ([]byte, bool, error) {
	r := &classReader{data: data, utf8: make(map[uint16]string)}
	if r.u4() != classMagic {
		return nil, false, fmt.Errorf("%w: bad magic", ErrMalformedClass)
	}
	r.skip(4) // minor, major
	poolCountAt := r.pos
	r.readConstantPool()
	poolEnd := r.pos
	r.skip(6) // access flags, this, super
	r.skip(2 * int(r.u2()))
	fieldsCountAt := r.pos
	fields := r.readMembers()
	fieldsEnd := r.pos
	if r.err != nil {
		return nil, false, r.err
	}

	for _, f := range fields {
		if f.Name == SignatureField {
			return data, false, nil
		}
	}

	count := int(binary.BigEndian.Uint16(data[poolCountAt:]))
	const added = 5
	if count+added > maxConstantPool {
		return nil, false, fmt.Errorf("%w: constant pool full", ErrMalformedClass)
	}
	if len(fields) >= maxConstantPool {
		return nil, false, fmt.Errorf("%w: too many fields", ErrMalformedClass)
	}

	next := uint16(count)
	var pool []byte
	utf8 := func(s string) uint16 {
		pool = append(pool, tagUtf8)
		pool = binary.BigEndian.AppendUint16(pool, uint16(len(s)))
		pool = append(pool, s...)
		next++
		return next - 1
	}
	name := utf8(SignatureField)
	descriptor := utf8(signatureDescriptor)
	attr := utf8(attrConstantValue)
	value := utf8(SignatureValue)
	pool = append(pool, tagString)
	pool = binary.BigEndian.AppendUint16(pool, value)
	constant := next
	next++

	field := binary.BigEndian.AppendUint16(nil, signatureAccess)
	field = binary.BigEndian.AppendUint16(field, name)
	field = binary.BigEndian.AppendUint16(field, descriptor)
	field = binary.BigEndian.AppendUint16(field, 1)
	field = binary.BigEndian.AppendUint16(field, attr)
	field = binary.BigEndian.AppendUint32(field, 2)
	field = binary.BigEndian.AppendUint16(field, constant)

	out := make([]byte, 0, len(data)+len(pool)+len(field))
	out = append(out, data[:poolCountAt]...)
	out = binary.BigEndian.AppendUint16(out, next)
	out = append(out, data[poolCountAt+2:poolEnd]...)
	out = append(out, pool...)
	out = append(out, data[poolEnd:fieldsCountAt]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(fields)+1))
	out = append(out, data[fieldsCountAt+2:fieldsEnd]...)
	out = append(out, field...)
	out = append(out, data[fieldsEnd:]...)
	return out, true, nil
}
