package fastls

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Msgpack extension types used for the non-data value kinds, so that user
// objects never collide with them.
const (
	extShortcut  int8 = 1
	extFunction  int8 = 2
	extUndefined int8 = 3
)

const (
	gzipMagic0 = 0x1f
	gzipMagic1 = 0x8b
)

// Codec encodes values and whole flat maps. The zero Codec writes plain msgpack
// and refuses function placeholders.
type Codec struct {
	// Compress gzips encoded flat maps. Decoding detects compression on its own.
	Compress bool

	// AllowFunctions permits function placeholders in stored values.
	AllowFunctions bool
}

func (c Codec) EncodeValue(v Value) ([]byte, error) {
	buf := encodeBufPool.Get().(*bytes.Buffer)
	defer releaseEncodeBuf(buf)

	enc := msgpack.GetEncoder()
	enc.Reset(buf)
	err := c.encodeValue(enc, v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (c Codec) encodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.kind {
	case KindUndefined:
		return enc.EncodeExtHeader(extUndefined, 0)
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.b)
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1<<53 && !(v.n == 0 && math.Signbit(v.n)) {
			return enc.EncodeInt(int64(v.n))
		}
		return enc.EncodeFloat64(v.n)
	case KindString:
		return enc.EncodeString(v.s)
	case KindShortcut:
		return encodeExtString(enc, extShortcut, v.s)
	case KindFunction:
		if !c.AllowFunctions {
			return fmt.Errorf("%w: function placeholder %q is not allowed", ErrSerialization, v.s)
		}
		return encodeExtString(enc, extFunction, v.s)
	case KindObject:
		if err := enc.EncodeMapLen(v.obj.Len()); err != nil {
			return err
		}
		for _, k := range v.obj.keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := c.encodeValue(enc, v.obj.vals[k]); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		if err := enc.EncodeArrayLen(v.arr.Len()); err != nil {
			return err
		}
		for _, item := range v.arr.Items {
			if err := c.encodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot encode %v", ErrSerialization, v.kind)
	}
}

func encodeExtString(enc *msgpack.Encoder, id int8, s string) error {
	if err := enc.EncodeExtHeader(id, len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(enc.Writer(), s)
	return err
}

func (c Codec) DecodeValue(data []byte) (Value, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	v, err := decodeValue(dec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return Value{}, dataErrf(data, int(r.Size())-r.Len(), err, "failed to decode value")
	}
	return v, nil
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return Value{}, err
	}
	switch {
	case c == msgpcode.Nil:
		return Null(), dec.DecodeNil()
	case c == msgpcode.True || c == msgpcode.False:
		b, err := dec.DecodeBool()
		return Bool(b), err
	case msgpcode.IsString(c) || msgpcode.IsBin(c):
		s, err := dec.DecodeString()
		return String(s), err
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return Value{}, err
		}
		o := NewObject()
		for i := 0; i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return Value{}, err
			}
			item, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			o.Set(k, item)
		}
		return ObjectValue(o), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		a := &Array{Items: make([]Value, 0, max(n, 0))}
		for i := 0; i < n; i++ {
			item, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			a.Items = append(a.Items, item)
		}
		return ArrayValue(a), nil
	case msgpcode.IsExt(c):
		id, n, err := dec.DecodeExtHeader()
		if err != nil {
			return Value{}, err
		}
		payload := make([]byte, n)
		if err := dec.ReadFull(payload); err != nil {
			return Value{}, err
		}
		switch id {
		case extUndefined:
			return Undefined(), nil
		case extShortcut:
			return ShortcutTo(string(payload)), nil
		case extFunction:
			return FunctionPlaceholder(string(payload)), nil
		default:
			return Value{}, fmt.Errorf("unknown extension type %d", id)
		}
	default:
		n, err := dec.DecodeFloat64()
		return Number(n), err
	}
}

// EncodeFlatMap encodes a whole database, sorted by key, gzipped when c.Compress is set.
func (c Codec) EncodeFlatMap(m FlatMap) ([]byte, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var zw *gzip.Writer
	if c.Compress {
		zw = gzip.NewWriter(&buf)
		w = zw
	}

	enc := msgpack.GetEncoder()
	enc.Reset(w)
	enc.SetSortMapKeys(true)
	err := enc.Encode(map[string][]byte(m))
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeFlatMap decodes the output of EncodeFlatMap, compressed or not.
func (c Codec) DecodeFlatMap(data []byte) (FlatMap, error) {
	raw := data
	if len(data) >= 2 && data[0] == gzipMagic0 && data[1] == gzipMagic1 {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, dataErrf(data, 0, err, "failed to open gzip stream")
		}
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, dataErrf(data, 0, err, "failed to decompress database")
		}
	}
	var m map[string][]byte
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, dataErrf(raw, 0, err, "failed to decode database")
	}
	if m == nil {
		m = make(map[string][]byte)
	}
	return FlatMap(m), nil
}
