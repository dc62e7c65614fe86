// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"fmt"
	"io"
)

// Variant is a minimal tagged union standing in for the GVariant
// "a(ss)"/"a{sv}"-style dynamic value types named in §3 (commit metadata
// map) and §4.J (detached-metadata "ostree.gpgsigs" entry). Only the
// value shapes this spec actually needs are supported: it is not a
// general-purpose variant encoder.
type Variant struct {
	// Str holds a string value when Kind == VariantString.
	Str string
	// Bytes holds a raw byte-array value when Kind == VariantBytes.
	Bytes []byte
	// ByteArrays holds an array-of-byte-array value (used for
	// "ostree.gpgsigs", an array of detached signatures) when
	// Kind == VariantByteArrayList.
	ByteArrays [][]byte
	Kind       VariantKind
}

type VariantKind uint8

const (
	VariantString VariantKind = iota
	VariantBytes
	VariantByteArrayList
)

func StringVariant(s string) Variant { return Variant{Kind: VariantString, Str: s} }
func BytesVariant(b []byte) Variant  { return Variant{Kind: VariantBytes, Bytes: b} }
func ByteArrayListVariant(bs [][]byte) Variant {
	return Variant{Kind: VariantByteArrayList, ByteArrays: bs}
}

// Metadata is the free-form string-keyed variant map carried by COMMIT
// records (§3) and by detached-metadata blobs (§4.J). Encoded as a count
// followed by (key, tag, payload) triples, sorted by key so that encoding
// is canonical and hashing is stable (P1).
type Metadata map[string]Variant

func writeVariant(w io.Writer, v Variant) error {
	if err := writeUint32(w, uint32(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case VariantString:
		return writeString(w, v.Str)
	case VariantBytes:
		return writeBytes(w, v.Bytes)
	case VariantByteArrayList:
		if err := writeUint32(w, uint32(len(v.ByteArrays))); err != nil {
			return err
		}
		for _, b := range v.ByteArrays {
			if err := writeBytes(w, b); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("rfsdb: unknown variant kind %d", v.Kind)
	}
}

func readVariant(r io.Reader) (Variant, error) {
	kind, err := readUint32(r)
	if err != nil {
		return Variant{}, err
	}
	switch VariantKind(kind) {
	case VariantString:
		s, err := readString(r)
		if err != nil {
			return Variant{}, err
		}
		return StringVariant(s), nil
	case VariantBytes:
		b, err := readBytes(r)
		if err != nil {
			return Variant{}, err
		}
		return BytesVariant(b), nil
	case VariantByteArrayList:
		n, err := readUint32(r)
		if err != nil {
			return Variant{}, err
		}
		out := make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			b, err := readBytes(r)
			if err != nil {
				return Variant{}, err
			}
			out = append(out, b)
		}
		return ByteArrayListVariant(out), nil
	default:
		return Variant{}, fmt.Errorf("rfsdb: unknown variant kind %d", kind)
	}
}

// sortedKeys is reused by every map encoder in this package to guarantee
// canonical, stable-hash ordering (P1).
func sortedKeys(m Metadata) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	insertionSortStrings(keys)
	return keys
}

// insertionSortStrings avoids importing sort for such a small, hot path;
// kept deliberately simple since metadata maps are always small.
func insertionSortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func writeMetadata(w io.Writer, m Metadata) error {
	keys := sortedKeys(m)
	if err := writeUint32(w, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeString(w, k); err != nil {
			return err
		}
		if err := writeVariant(w, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func readMetadata(r io.Reader) (Metadata, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	m := make(Metadata, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readVariant(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// WriteMetadataMap and ReadMetadataMap expose the canonical metadata-map
// codec to other packages (the static-delta superblock's own metadata
// field and the detached-metadata blob both reuse it, §4.G item 1,
// §4.J).
func WriteMetadataMap(w io.Writer, m Metadata) error { return writeMetadata(w, m) }
func ReadMetadataMap(r io.Reader) (Metadata, error)  { return readMetadata(r) }

// GPGSigsKey is the recognized detached-metadata key carrying signatures
// (§4.J); the name is part of the wire format and must match it exactly.
const GPGSigsKey = "ostree.gpgsigs"

// Signatures extracts the detached-signature list from a metadata map, if
// present.
func (m Metadata) Signatures() ([][]byte, bool) {
	v, ok := m[GPGSigsKey]
	if !ok || v.Kind != VariantByteArrayList {
		return nil, false
	}
	return v.ByteArrays, true
}

// WithSignature returns a copy of m with sig appended to the
// "ostree.gpgsigs" array, creating it if absent — used by §4.J's `append`
// operation.
func (m Metadata) WithSignature(sig []byte) Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	existing, _ := out.Signatures()
	out[GPGSigsKey] = ByteArrayListVariant(append(append([][]byte{}, existing...), sig))
	return out
}
