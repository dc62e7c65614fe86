// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadVarUint64 and WriteVarUint64 implement the varuint64 codec used by
// static-delta operation streams (§4.G WRITE op offsets/sizes). Grounded on
// the same LEB128-style varint hugescm uses for pack index entry offsets
// (modules/zeta/backend/pack/index.go), generalized into a standalone
// reusable codec since this spec needs it in the delta operation stream,
// not just in a pack index.
func WriteVarUint64(w io.Writer, v uint64) (int, error) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return w.Write(buf[:n])
}

// AppendVarUint64 appends the varuint64 encoding of v to dst and returns
// the result, mirroring binary.AppendUvarint's shape for callers building
// an in-memory operation-stream buffer (internal/delta/generate).
func AppendVarUint64(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

func ReadVarUint64(r io.ByteReader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, fmt.Errorf("rfsdb: read varuint64: %w", err)
	}
	return v, nil
}
