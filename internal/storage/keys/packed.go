// Licensed under the MIT License. See LICENSE file in the project root for details.

package keys

import (
	"bytes"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/types"
)

// PackedKey is a fixed-size, byte-comparable key. Bytes past the schema's
// width are always zero.
type PackedKey struct {
	b [MaxPackedSize]byte
}

func (k PackedKey) String() string {
	return hex.EncodeToString(bytes.TrimRight(k.b[:], "\x00"))
}

// PackedPolicy encodes, orders and hashes packed keys for one key schema.
type PackedPolicy struct {
	schema *catalog.Schema
	widths []int
	width  int
}

// NewPackedPolicy builds the policy. The schema must qualify for the packed
// form (see Choose).
func NewPackedPolicy(schema *catalog.Schema) *PackedPolicy {
	p := &PackedPolicy{schema: schema, widths: make([]int, schema.ColumnCount())}
	for i := range p.widths {
		p.widths[i] = schema.Column(i).Type.Size()
		p.width += p.widths[i]
	}
	if _, ok := PackedWidth(schema); !ok || p.width > MaxPackedSize {
		panic("keys: schema does not qualify for packed keys")
	}
	return p
}

func (p *PackedPolicy) Representation() Representation { return Packed }
func (p *PackedPolicy) Schema() *catalog.Schema        { return p.schema }

// Encode packs the key tuple. Each column is biased by flipping its sign bit
// and written big-endian in key-schema order.
func (p *PackedPolicy) Encode(t *catalog.Tuple) PackedKey {
	checkArity(p.schema, t)
	var k PackedKey
	off := 0
	for i, w := range p.widths {
		v := t.Value(i)
		checkValue(p.schema, i, v)
		putBiased(k.b[off:off+w], v.Int())
		off += w
	}
	return k
}

// Decode rebuilds the key tuple from a packed key.
func (p *PackedPolicy) Decode(k PackedKey) *catalog.Tuple {
	t := catalog.NewTuple(p.schema)
	off := 0
	for i, w := range p.widths {
		t.SetValue(i, types.NewIntegral(p.schema.Column(i).Type, getBiased(k.b[off:off+w])))
		off += w
	}
	return t
}

func (p *PackedPolicy) Compare(a, b PackedKey) int {
	return bytes.Compare(a.b[:p.width], b.b[:p.width])
}

func (p *PackedPolicy) Equal(a, b PackedKey) bool {
	return a == b
}

func (p *PackedPolicy) Hash(k PackedKey) uint64 {
	return xxhash.Sum64(k.b[:p.width])
}

// putBiased writes v into dst (1, 2, 4 or 8 bytes) with the sign bit flipped.
func putBiased(dst []byte, v int64) {
	w := len(dst)
	u := uint64(v) ^ (1 << (8*w - 1))
	for i := w - 1; i >= 0; i-- {
		dst[i] = byte(u)
		u >>= 8
	}
}

// getBiased reverses putBiased, sign-extending to 64 bits.
func getBiased(src []byte) int64 {
	w := len(src)
	var u uint64
	for _, b := range src {
		u = u<<8 | uint64(b)
	}
	u ^= 1 << (8*w - 1)
	shift := 64 - 8*w
	return int64(u<<shift) >> shift
}
