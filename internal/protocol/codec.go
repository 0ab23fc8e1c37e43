package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrShortBuffer is returned by Reader methods when the underlying
// buffer is exhausted before the requested value could be read.
var ErrShortBuffer = errors.New("protocol: short buffer")

// Reader is a sequential little-endian reader over one packet payload.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadI32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadI64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) ReadF32() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadString reads a length-prefixed UTF-8 string. A leading 0x00 byte
// means "no string"; 0x0b (ULEB128-style marker used by the real client)
// is accepted as the "string follows" marker, then a ULEB128 length,
// then the UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	marker, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	if marker == 0x00 {
		return "", nil
	}
	length, err := r.readULEB128()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) readULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

// ReadI32Slice reads a u16-count-prefixed vector of little-endian int32s.
func (r *Reader) ReadI32Slice() ([]int32, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, count)
	for i := 0; i < int(count); i++ {
		v, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Writer accumulates a single packet payload in little-endian form.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) WriteU8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteI32(v int32) {
	w.WriteU32(uint32(v))
}

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteI64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteString writes the same 0x00 / 0x0b + ULEB128-length + UTF-8
// encoding ReadString expects.
func (w *Writer) WriteString(s string) {
	if s == "" {
		w.WriteU8(0x00)
		return
	}
	w.WriteU8(0x0b)
	w.writeULEB128(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) writeULEB128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func (w *Writer) WriteI32Slice(values []int32) {
	w.WriteU16(uint16(len(values)))
	for _, v := range values {
		w.WriteI32(v)
	}
}

// Frame wire format (§4.7): <u16 packet_id><u8 zero><i32 length><payload>.

// EncodeFrame wraps a payload with its packet framing.
func EncodeFrame(id PacketID, payload []byte) []byte {
	w := NewWriter()
	w.WriteU16(uint16(id))
	w.WriteU8(0)
	w.WriteI32(int32(len(payload)))
	w.buf.Write(payload)
	return w.Bytes()
}

// DecodeFrames splits a byte stream into frames, returning every
// complete frame found and the number of bytes consumed. A trailing
// partial frame (short read) is left unconsumed rather than erroring,
// so the gateway can retry once more bytes arrive.
func DecodeFrames(data []byte) ([]Frame, int, error) {
	var frames []Frame
	pos := 0
	for pos < len(data) {
		if len(data)-pos < 7 {
			break
		}
		id := binary.LittleEndian.Uint16(data[pos : pos+2])
		length := int32(binary.LittleEndian.Uint32(data[pos+3 : pos+7]))
		if length < 0 {
			return frames, pos, errors.New("protocol: negative frame length")
		}
		end := pos + 7 + int(length)
		if end > len(data) {
			break
		}
		frames = append(frames, Frame{ID: PacketID(id), Payload: data[pos+7 : end]})
		pos = end
	}
	return frames, pos, nil
}

// DecodeAllFrames is a convenience wrapper that requires the entire
// buffer to be consumed, returning io.ErrUnexpectedEOF on a trailing
// partial frame — used by the gateway where a request body is expected
// to contain whole frames only.
func DecodeAllFrames(data []byte) ([]Frame, error) {
	frames, consumed, err := DecodeFrames(data)
	if err != nil {
		return nil, err
	}
	if consumed != len(data) {
		return frames, io.ErrUnexpectedEOF
	}
	return frames, nil
}
