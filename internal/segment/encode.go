package segment

import (
	"encoding/binary"
	"math/big"

	"github.com/strataio/strata/pkg/types"
)

// DatumBytes renders a datum in a canonical byte form for bloom filter
// hashing. String types hash their raw bytes, numeric types their
// little-endian fixed-width encoding. LARGEINT hashes the big-endian bytes
// of its absolute value, so a value and its negation hash alike.
func DatumBytes(ft types.FieldType, d types.Datum) []byte {
	switch v := d.(type) {
	case int8:
		return []byte{byte(v)}
	case int16:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v))
		return buf[:]
	case int32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		return buf[:]
	case int64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		return buf[:]
	case uint32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		return buf[:]
	case uint64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		return buf[:]
	case *big.Int:
		return v.Bytes()
	case types.Decimal:
		var buf [12]byte
		binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Int))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(v.Frac))
		return buf[:]
	case string:
		return []byte(v)
	}
	return nil
}
