// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/ulikunitz/xz"
)

// op tags for the operation stream (§4.G: "a sequence of ops on a
// cursor into payload_bytes"); the spec names WRITE/CLOSE but leaves
// their on-the-wire tagging to the implementation.
const (
	opTagWrite byte = 1
	opTagClose byte = 2
)

// Op is one entry in a part's operation stream.
type Op struct {
	Close  bool
	Offset uint64
	Size   uint64
}

// EncodeOperationStream serializes ops (§4.G part payload, second
// tuple element).
func EncodeOperationStream(ops []Op) []byte {
	var buf []byte
	for _, op := range ops {
		if op.Close {
			buf = append(buf, opTagClose)
			continue
		}
		buf = append(buf, opTagWrite)
		buf = checksum.AppendVarUint64(buf, op.Offset)
		buf = checksum.AppendVarUint64(buf, op.Size)
	}
	return buf
}

// DecodeOperationStream parses an encoded operation stream.
func DecodeOperationStream(data []byte) ([]Op, error) {
	r := bytes.NewReader(data)
	var ops []Op
	for r.Len() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case opTagClose:
			ops = append(ops, Op{Close: true})
		case opTagWrite:
			offset, err := checksum.ReadVarUint64(r)
			if err != nil {
				return nil, err
			}
			size, err := checksum.ReadVarUint64(r)
			if err != nil {
				return nil, err
			}
			ops = append(ops, Op{Offset: offset, Size: size})
		default:
			return nil, fmt.Errorf("%w: unknown operation tag %d", ErrInvalidFormat, tag)
		}
	}
	return ops, nil
}

// PartPayload is the decoded (payload_bytes, operation_stream) tuple
// inside a part file, after decompression (§4.G).
type PartPayload struct {
	Bytes []byte
	Ops   []Op
}

// EncodePartPayload serializes the (payload_bytes, operation_stream)
// tuple, uncompressed.
func EncodePartPayload(p *PartPayload) []byte {
	var buf bytes.Buffer
	_ = writeBytesLE(&buf, p.Bytes)
	_ = writeBytesLE(&buf, EncodeOperationStream(p.Ops))
	return buf.Bytes()
}

// DecodePartPayload parses the uncompressed tuple back out.
func DecodePartPayload(data []byte) (*PartPayload, error) {
	r := bytes.NewReader(data)
	payloadBytes, err := readBytesLE(r)
	if err != nil {
		return nil, err
	}
	opBytes, err := readBytesLE(r)
	if err != nil {
		return nil, err
	}
	ops, err := DecodeOperationStream(opBytes)
	if err != nil {
		return nil, err
	}
	return &PartPayload{Bytes: payloadBytes, Ops: ops}, nil
}

// WritePartFile writes a full part file: the compression-kind byte
// followed by the compressed tuple (§4.G "(compression: u8, payload:
// bytes)").
func WritePartFile(w io.Writer, compression Compression, payload *PartPayload) error {
	if err := writeU8(w, byte(compression)); err != nil {
		return err
	}
	raw := EncodePartPayload(payload)
	compressed, err := compressBytes(compression, raw)
	if err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// ReadPartFile reads and decompresses a full part file.
func ReadPartFile(r io.Reader) (*PartPayload, error) {
	br, err := drainAll(r)
	if err != nil {
		return nil, err
	}
	if len(br) < 1 {
		return nil, fmt.Errorf("%w: empty part file", ErrInvalidFormat)
	}
	compression := Compression(br[0])
	raw, err := decompressBytes(compression, br[1:])
	if err != nil {
		return nil, err
	}
	return DecodePartPayload(raw)
}

func drainAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressBytes(c Compression, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionLZMA:
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression byte %d", ErrInvalidFormat, c)
	}
}

func decompressBytes(c Compression, compressed []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return compressed, nil
	case CompressionLZMA:
		r, err := xz.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("%w: unknown compression byte %d", ErrInvalidFormat, c)
	}
}
