package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/golang/snappy"

	"github.com/strataio/strata/internal/bloom"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/pkg/types"
)

// Segment file layout:
//
//	magic | id | version lo, hi | delete flag | column count | row count
//	per-column zone stats
//	bloom filters (column id, serialized filter)
//	row blocks, each snappy-compressed
//
// All integers little-endian. The schema is not embedded; the catalog
// carries it and Decode checks the column count.
var segmentMagic = []byte("STRSEG1\x00")

// Encode serializes a segment into the on-disk form with the given rows
// per compressed block.
func Encode(m *MemSegment, blockRows int) ([]byte, error) {
	if blockRows <= 0 {
		blockRows = defaultBlockRows
	}
	var buf bytes.Buffer
	buf.Write(segmentMagic)
	writeString(&buf, m.id)
	writeUint64(&buf, uint64(m.version.Lo))
	writeUint64(&buf, uint64(m.version.Hi))
	if m.deleteFlag {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeUint32(&buf, uint32(m.schema.NumFields()))
	writeUint32(&buf, uint32(len(m.rows)))

	for cid := 0; cid < m.schema.NumFields(); cid++ {
		st := m.stats[cid]
		flags := byte(0)
		if st.valid {
			flags |= 1
		}
		if st.hasNull {
			flags |= 2
		}
		buf.WriteByte(flags)
		if st.valid {
			ft := m.schema.Field(cid).Type
			if err := encodeDatum(&buf, ft, st.min); err != nil {
				return nil, err
			}
			if err := encodeDatum(&buf, ft, st.max); err != nil {
				return nil, err
			}
		}
	}

	writeUint32(&buf, uint32(len(m.blooms)))
	for cid := 0; cid < m.schema.NumFields(); cid++ {
		bf, ok := m.blooms[cid]
		if !ok {
			continue
		}
		writeUint32(&buf, uint32(cid))
		raw := bf.Serialize()
		writeUint32(&buf, uint32(len(raw)))
		buf.Write(raw)
	}

	numBlocks := (len(m.rows) + blockRows - 1) / blockRows
	writeUint32(&buf, uint32(numBlocks))
	for b := 0; b < numBlocks; b++ {
		lo := b * blockRows
		hi := lo + blockRows
		if hi > len(m.rows) {
			hi = len(m.rows)
		}
		var raw bytes.Buffer
		writeUint32(&raw, uint32(hi-lo))
		for _, r := range m.rows[lo:hi] {
			for cid := 0; cid < m.schema.NumFields(); cid++ {
				if err := encodeNullableDatum(&raw, m.schema.Field(cid).Type, r[cid]); err != nil {
					return nil, err
				}
			}
		}
		compressed := snappy.Encode(nil, raw.Bytes())
		writeUint32(&buf, uint32(len(compressed)))
		buf.Write(compressed)
	}
	return buf.Bytes(), nil
}

// Decode reconstructs a segment from Encode output.
func Decode(s *schema.Schema, data []byte) (*MemSegment, error) {
	rd := &byteReader{data: data}
	magic, err := rd.take(len(segmentMagic))
	if err != nil || !bytes.Equal(magic, segmentMagic) {
		return nil, fmt.Errorf("segment: bad magic")
	}
	id, err := rd.readString()
	if err != nil {
		return nil, err
	}
	lo, err := rd.readUint64()
	if err != nil {
		return nil, err
	}
	hi, err := rd.readUint64()
	if err != nil {
		return nil, err
	}
	delFlag, err := rd.readByte()
	if err != nil {
		return nil, err
	}
	numFields, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	if int(numFields) != s.NumFields() {
		return nil, fmt.Errorf("segment: schema has %d columns, file has %d", s.NumFields(), numFields)
	}
	numRows, err := rd.readUint32()
	if err != nil {
		return nil, err
	}

	m := &MemSegment{
		id:         id,
		schema:     s,
		version:    types.Version{Lo: int64(lo), Hi: int64(hi)},
		deleteFlag: delFlag == 1,
		stats:      make([]columnStats, s.NumFields()),
		blooms:     make(map[int]*bloom.Filter),
	}

	for cid := 0; cid < s.NumFields(); cid++ {
		flags, err := rd.readByte()
		if err != nil {
			return nil, err
		}
		st := &m.stats[cid]
		st.valid = flags&1 != 0
		st.hasNull = flags&2 != 0
		if st.valid {
			ft := s.Field(cid).Type
			if st.min, err = decodeDatum(rd, ft); err != nil {
				return nil, err
			}
			if st.max, err = decodeDatum(rd, ft); err != nil {
				return nil, err
			}
		}
	}

	numBlooms, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numBlooms; i++ {
		cid, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		size, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		raw, err := rd.take(int(size))
		if err != nil {
			return nil, err
		}
		bf, err := bloom.Deserialize(raw)
		if err != nil {
			return nil, err
		}
		m.blooms[int(cid)] = bf
	}

	numBlocks, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	m.rows = make([][]types.Datum, 0, numRows)
	for b := uint32(0); b < numBlocks; b++ {
		size, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		compressed, err := rd.take(int(size))
		if err != nil {
			return nil, err
		}
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("segment: block decompress: %w", err)
		}
		brd := &byteReader{data: raw}
		blockRows, err := brd.readUint32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < blockRows; i++ {
			r := make([]types.Datum, s.NumFields())
			for cid := 0; cid < s.NumFields(); cid++ {
				d, err := decodeNullableDatum(brd, s.Field(cid).Type)
				if err != nil {
					return nil, err
				}
				r[cid] = d
			}
			m.rows = append(m.rows, r)
		}
	}
	if len(m.rows) != int(numRows) {
		return nil, fmt.Errorf("segment: expected %d rows, decoded %d", numRows, len(m.rows))
	}
	return m, nil
}

// Upload encodes the segment and writes it to object storage.
func Upload(ctx context.Context, store storage.ObjectStorage, key string, m *MemSegment, blockRows int) error {
	data, err := Encode(m, blockRows)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

// OpenFromStorage fetches and decodes a segment object.
func OpenFromStorage(ctx context.Context, store storage.ObjectStorage, key string, s *schema.Schema) (*MemSegment, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decode(s, data)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func encodeNullableDatum(buf *bytes.Buffer, ft types.FieldType, d types.Datum) error {
	if d == nil {
		buf.WriteByte(0)
		return nil
	}
	buf.WriteByte(1)
	return encodeDatum(buf, ft, d)
}

func encodeDatum(buf *bytes.Buffer, ft types.FieldType, d types.Datum) error {
	switch v := d.(type) {
	case int8:
		buf.WriteByte(byte(v))
	case int16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case int32:
		writeUint32(buf, uint32(v))
	case int64:
		writeUint64(buf, uint64(v))
	case uint32:
		writeUint32(buf, v)
	case uint64:
		writeUint64(buf, v)
	case *big.Int:
		if v.Sign() < 0 {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		raw := v.Bytes()
		writeUint32(buf, uint32(len(raw)))
		buf.Write(raw)
	case types.Decimal:
		writeUint64(buf, uint64(v.Int))
		writeUint32(buf, uint32(v.Frac))
	case string:
		writeString(buf, v)
	default:
		return fmt.Errorf("segment: cannot encode %T for field type %s", d, ft)
	}
	return nil
}

func decodeNullableDatum(rd *byteReader, ft types.FieldType) (types.Datum, error) {
	marker, err := rd.readByte()
	if err != nil {
		return nil, err
	}
	if marker == 0 {
		return nil, nil
	}
	return decodeDatum(rd, ft)
}

func decodeDatum(rd *byteReader, ft types.FieldType) (types.Datum, error) {
	switch ft {
	case types.FieldTypeTinyInt:
		b, err := rd.readByte()
		return int8(b), err
	case types.FieldTypeSmallInt:
		raw, err := rd.take(2)
		if err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(raw)), nil
	case types.FieldTypeInt:
		v, err := rd.readUint32()
		return int32(v), err
	case types.FieldTypeBigInt:
		v, err := rd.readUint64()
		return int64(v), err
	case types.FieldTypeDate:
		v, err := rd.readUint32()
		return v, err
	case types.FieldTypeDateTime:
		v, err := rd.readUint64()
		return v, err
	case types.FieldTypeLargeInt:
		sign, err := rd.readByte()
		if err != nil {
			return nil, err
		}
		size, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		raw, err := rd.take(int(size))
		if err != nil {
			return nil, err
		}
		v := new(big.Int).SetBytes(raw)
		if sign == 1 {
			v.Neg(v)
		}
		return v, nil
	case types.FieldTypeDecimal:
		ip, err := rd.readUint64()
		if err != nil {
			return nil, err
		}
		fp, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		return types.Decimal{Int: int64(ip), Frac: int32(fp)}, nil
	case types.FieldTypeChar, types.FieldTypeVarchar, types.FieldTypeHLL:
		return rd.readString()
	}
	return nil, fmt.Errorf("segment: cannot decode field type %s", ft)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("segment: truncated file at offset %d", r.pos)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) readByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) readUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) readUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) readString() (string, error) {
	size, err := r.readUint32()
	if err != nil {
		return "", err
	}
	raw, err := r.take(int(size))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
