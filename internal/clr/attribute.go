package clr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Element types used in constructor signatures.
const (
	elemVoid    = 0x01
	elemBoolean = 0x02
	elemChar    = 0x03
	elemI1      = 0x04
	elemU1      = 0x05
	elemI2      = 0x06
	elemU2      = 0x07
	elemI4      = 0x08
	elemU4      = 0x09
	elemI8      = 0x0A
	elemU8      = 0x0B
	elemR4      = 0x0C
	elemR8      = 0x0D
	elemString  = 0x0E

	sigHasThis = 0x20
	caProlog   = 0x0001
)

// ctorParams returns the element type of every parameter of a constructor
// signature. Parameters of other types are reported as 0.
func ctorParams(sig []byte) ([]byte, error) {
	r := reader{data: sig}
	conv, err := r.u8()
	if err != nil {
		return nil, err
	}
	if conv&sigHasThis == 0 {
		return nil, fmt.Errorf("%w: constructor signature without this", ErrFormat)
	}
	count, err := r.compressed()
	if err != nil {
		return nil, err
	}
	ret, err := r.u8()
	if err != nil {
		return nil, err
	}
	if ret != elemVoid {
		return nil, fmt.Errorf("%w: constructor returns 0x%x", ErrFormat, ret)
	}

	params := make([]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		et, err := r.u8()
		if err != nil {
			return nil, err
		}
		if et >= elemBoolean && et <= elemString {
			params = append(params, et)
			continue
		}
		// Anything else needs type resolution; stop here.
		params = append(params, 0)
		break
	}
	return params, nil
}

// decodeFixedArgs decodes the fixed arguments of a custom attribute value
// blob against its constructor signature.
func decodeFixedArgs(sig, value []byte) ([]any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	params, err := ctorParams(sig)
	if err != nil {
		return nil, err
	}

	r := reader{data: value}
	prolog, err := r.u16()
	if err != nil {
		return nil, err
	}
	if prolog != caProlog {
		return nil, fmt.Errorf("%w: custom attribute prolog 0x%04x", ErrFormat, prolog)
	}

	var args []any
	for _, et := range params {
		if et == 0 {
			break
		}
		v, err := readElem(&r, et)
		if err != nil {
			return args, err
		}
		args = append(args, v)
	}
	return args, nil
}

func readElem(r *reader, et byte) (any, error) {
	switch et {
	case elemBoolean:
		b, err := r.u8()
		return b != 0, err
	case elemChar:
		v, err := r.u16()
		return rune(v), err
	case elemI1:
		v, err := r.u8()
		return int8(v), err
	case elemU1:
		return r.u8()
	case elemI2:
		v, err := r.u16()
		return int16(v), err
	case elemU2:
		return r.u16()
	case elemI4:
		v, err := r.u32()
		return int32(v), err
	case elemU4:
		return r.u32()
	case elemI8:
		v, err := r.u64()
		return int64(v), err
	case elemU8:
		return r.u64()
	case elemR4:
		v, err := r.u32()
		return math.Float32frombits(v), err
	case elemR8:
		v, err := r.u64()
		return math.Float64frombits(v), err
	case elemString:
		return r.serString()
	}
	return nil, fmt.Errorf("%w: element type 0x%x", ErrFormat, et)
}

// serString reads a SerString. A null string is returned as nil.
func (r *reader) serString() (any, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	if r.data[r.pos] == 0xFF {
		r.pos++
		return nil, nil
	}
	n, err := r.compressed()
	if err != nil {
		return nil, err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// AppendSerString appends s encoded as a SerString.
func AppendSerString(dst []byte, s string) []byte {
	dst = AppendCompressed(dst, uint32(len(s)))
	return append(dst, s...)
}

// AppendCompressed appends v as an ECMA-335 compressed unsigned integer.
func AppendCompressed(dst []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(dst, byte(v))
	case v < 0x4000:
		return binary.BigEndian.AppendUint16(dst, uint16(v)|0x8000)
	default:
		return binary.BigEndian.AppendUint32(dst, v|0xC0000000)
	}
}
