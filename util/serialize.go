package util

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/tessacoin/tessanode/errors"
)

// MaxCompactSize is the largest length prefix accepted from untrusted input.
const MaxCompactSize = 0x02000000

// CompactSizeLen returns the number of bytes required to store x as a compact size.
// Returns 1, 3, 5, or 9 bytes depending on the value size.
func CompactSizeLen(x uint64) int {
	if x < 0xfd {
		return 1
	}

	if x <= math.MaxUint16 {
		return 3
	}

	if x <= math.MaxUint32 {
		return 5
	}

	return 9
}

// AppendCompactSize appends the compact-size encoding of x to b.
func AppendCompactSize(b []byte, x uint64) []byte {
	switch {
	case x < 0xfd:
		return append(b, byte(x))
	case x <= math.MaxUint16:
		return binary.LittleEndian.AppendUint16(append(b, 0xfd), uint16(x))
	case x <= math.MaxUint32:
		return binary.LittleEndian.AppendUint32(append(b, 0xfe), uint32(x))
	default:
		return binary.LittleEndian.AppendUint64(append(b, 0xff), x)
	}
}

func WriteCompactSize(w io.Writer, x uint64) error {
	var scratch [9]byte

	_, err := w.Write(AppendCompactSize(scratch[:0], x))

	return err
}

// ReadCompactSize reads a compact size and rejects any encoding that is not
// the shortest possible one, as well as values above MaxCompactSize.
func ReadCompactSize(r io.Reader) (uint64, error) {
	n, err := ReadCompactSizeUnbounded(r)
	if err != nil {
		return 0, err
	}

	if n > MaxCompactSize {
		return 0, errors.NewProcessingError("compact size %d exceeds maximum %d", n, MaxCompactSize)
	}

	return n, nil
}

// ReadCompactSizeUnbounded is ReadCompactSize without the MaxCompactSize check.
func ReadCompactSizeUnbounded(r io.Reader) (uint64, error) {
	var scratch [8]byte

	if _, err := io.ReadFull(r, scratch[:1]); err != nil {
		return 0, err
	}

	var (
		n   uint64
		low uint64
	)

	switch scratch[0] {
	case 0xfd:
		if _, err := io.ReadFull(r, scratch[:2]); err != nil {
			return 0, err
		}

		n, low = uint64(binary.LittleEndian.Uint16(scratch[:2])), 0xfd
	case 0xfe:
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return 0, err
		}

		n, low = uint64(binary.LittleEndian.Uint32(scratch[:4])), 0x10000
	case 0xff:
		if _, err := io.ReadFull(r, scratch[:8]); err != nil {
			return 0, err
		}

		n, low = binary.LittleEndian.Uint64(scratch[:8]), 0x100000000
	default:
		return uint64(scratch[0]), nil
	}

	if n < low {
		return 0, errors.NewProcessingError("non-canonical compact size 0x%02x for value %d", scratch[0], n)
	}

	return n, nil
}

// AppendVarInt appends the varint encoding of n: base-128, most significant
// group first, continuation bit on every byte but the last, and one
// subtracted from every group but the last so each value has one encoding.
func AppendVarInt(b []byte, n uint64) []byte {
	var tmp [10]byte

	l := 0

	for {
		tmp[l] = byte(n & 0x7f)
		if l > 0 {
			tmp[l] |= 0x80
		}

		if n <= 0x7f {
			break
		}

		n = (n >> 7) - 1
		l++
	}

	for i := l; i >= 0; i-- {
		b = append(b, tmp[i])
	}

	return b
}

func WriteVarInt(w io.Writer, n uint64) error {
	var scratch [10]byte

	_, err := w.Write(AppendVarInt(scratch[:0], n))

	return err
}

func ReadVarInt(r io.Reader) (uint64, error) {
	var (
		n  uint64
		ch [1]byte
	)

	for {
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return 0, err
		}

		if n > (math.MaxUint64 >> 7) {
			return 0, errors.NewProcessingError("varint too large")
		}

		n = (n << 7) | uint64(ch[0]&0x7f)

		if ch[0]&0x80 == 0 {
			return n, nil
		}

		if n == math.MaxUint64 {
			return 0, errors.NewProcessingError("varint too large")
		}

		n++
	}
}

func AppendVarBytes(b []byte, data []byte) []byte {
	b = AppendCompactSize(b, uint64(len(data)))
	return append(b, data...)
}

func WriteVarBytes(w io.Writer, data []byte) error {
	if err := WriteCompactSize(w, uint64(len(data))); err != nil {
		return err
	}

	_, err := w.Write(data)

	return err
}

// ReadVarBytes reads a length-prefixed byte slice of at most maxAllowed bytes.
// fieldName is used in the error message.
func ReadVarBytes(r io.Reader, maxAllowed uint64, fieldName string) ([]byte, error) {
	count, err := ReadCompactSizeUnbounded(r)
	if err != nil {
		return nil, err
	}

	if count > maxAllowed {
		return nil, errors.NewProcessingError("%s is larger than the max allowed size [count %d, max %d]", fieldName, count, maxAllowed)
	}

	b := make([]byte, count)
	if _, err = io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}

func WriteVarString(w io.Writer, s string) error {
	return WriteVarBytes(w, []byte(s))
}

func ReadVarString(r io.Reader, maxAllowed uint64) (string, error) {
	b, err := ReadVarBytes(r, maxAllowed, "string")
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return b[0], nil
}

func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b[:]), nil
}

func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b[:]), nil
}

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func WriteUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])

	return err
}

func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])

	return err
}

func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])

	return err
}
