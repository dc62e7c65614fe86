// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package generate implements the static-delta generator (§4.H): given
// a repository and a from/to commit pair, it diffs their reachable
// sets, packs the new objects into size-bounded parts, and writes the
// superblock plus numbered part files under deltas/<from>/<to>/.
//
// Grounded on antgroup-hugescm's modules/zeta/backend/pack-objects.go
// pack-building path (reachable-set diff, bounded-size packing loop),
// adapted from a single pack file onto this format's superblock/part
// split.
package generate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/delta"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/repo"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/kranesystems/rfsdb/internal/traverse"
)

// DefaultMaxUsizeBytes bounds both a single part's packed size and the
// threshold past which a content object is moved to the fallback list,
// absent an explicit Options.MaxUsizeBytes (§4.H params).
const DefaultMaxUsizeBytes = 64 << 20

// Options configures a Generate run.
type Options struct {
	// MaxUsizeBytes is the part-size and fallback-size bound. Zero
	// selects DefaultMaxUsizeBytes.
	MaxUsizeBytes uint64
	// Compression selects the part payload compressor. The zero value
	// (delta.CompressionNone) selects delta.CompressionLZMA instead,
	// matching the spec's stated default; there is no way to request
	// CompressionNone through this field, since its zero value is
	// reserved for "unset".
	Compression delta.Compression
	// Metadata is embedded in the superblock's free-form metadata map.
	Metadata object.Metadata
}

// Result summarizes what Generate wrote, for progress reporting.
type Result struct {
	PartsWritten   int
	FallbackCount  int
	NewObjectCount int
}

func (o Options) maxUsize() uint64 {
	if o.MaxUsizeBytes == 0 {
		return DefaultMaxUsizeBytes
	}
	return o.MaxUsizeBytes
}

func (o Options) compression() delta.Compression {
	if o.Compression == delta.CompressionNone {
		return delta.CompressionLZMA
	}
	return o.Compression
}

// pendingObject is one object queued for packing, in the deterministic
// order metadata-then-content requires.
type pendingObject struct {
	kind object.Kind
	csum checksum.Checksum
}

// Generate builds a static delta for the from->to commit transition and
// writes it under r.DeltaDir(from, to). from may be checksum.Zero for a
// from-scratch delta, in which case every object reachable from to is
// new.
func Generate(r *repo.Repository, from, to checksum.Checksum, opts Options) (*Result, error) {
	s := r.Store()

	toMeta, err := s.LoadMetadata(object.Commit, to)
	if err != nil {
		return nil, fmt.Errorf("rfsdb: load to-commit %s: %w", to, err)
	}

	toReachable, err := traverse.Commit(s, to)
	if err != nil {
		return nil, fmt.Errorf("rfsdb: traverse to-commit: %w", err)
	}

	fromReachable := traverse.Set{}
	if !from.IsZero() {
		fromReachable, err = traverse.Commit(s, from)
		if err != nil {
			return nil, fmt.Errorf("rfsdb: traverse from-commit: %w", err)
		}
	}

	newSet := traverse.Set{}
	for k := range toReachable {
		if _, ok := fromReachable[k]; !ok {
			newSet[k] = struct{}{}
		}
	}
	delete(newSet, traverse.Key{Checksum: to, Kind: object.Commit})

	var metadataObjs, contentObjs []pendingObject
	for k := range newSet {
		if k.Kind == object.File {
			contentObjs = append(contentObjs, pendingObject{kind: k.Kind, csum: k.Checksum})
		} else {
			metadataObjs = append(metadataObjs, pendingObject{kind: k.Kind, csum: k.Checksum})
		}
	}
	sortObjects(metadataObjs)
	sortObjects(contentObjs)

	maxUsize := opts.maxUsize()

	var fallback []delta.FallbackEntry
	var content []pendingObject
	for _, o := range contentObjs {
		compressedSize, err := s.QueryStorageSize(object.File, o.csum)
		if err != nil {
			return nil, err
		}
		if compressedSize > maxUsize {
			uncompressedSize, err := uncompressedFileSize(s, o.csum, compressedSize)
			if err != nil {
				return nil, err
			}
			fallback = append(fallback, delta.FallbackEntry{
				Kind:             object.File,
				Checksum:         o.csum,
				CompressedSize:   compressedSize,
				UncompressedSize: uncompressedSize,
			})
			continue
		}
		content = append(content, o)
	}

	ordered := append(append([]pendingObject{}, metadataObjs...), content...)

	parts, err := packParts(s, ordered, maxUsize)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp(r.TmpDir(), "delta-gen-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	partHeaders := make([]delta.PartHeader, 0, len(parts))
	for i, p := range parts {
		partPath := filepath.Join(tmpDir, fmt.Sprintf("%d", i))
		h, err := writePart(partPath, p, opts.compression())
		if err != nil {
			return nil, err
		}
		partHeaders = append(partHeaders, h)
	}

	sb := &delta.Superblock{
		Metadata:  opts.Metadata,
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		ToCommit:  toMeta.Commit,
		Parts:     partHeaders,
		Fallback:  fallback,
	}

	destDir := r.DeltaDir(from.String(), to.String())
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	metaPath := filepath.Join(tmpDir, "meta")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return nil, err
	}
	if err := delta.WriteSuperblock(metaFile, sb); err != nil {
		_ = metaFile.Close()
		return nil, err
	}
	if err := metaFile.Close(); err != nil {
		return nil, err
	}

	for i := range partHeaders {
		src := filepath.Join(tmpDir, fmt.Sprintf("%d", i))
		dst := filepath.Join(destDir, fmt.Sprintf("%d", i))
		if err := os.Rename(src, dst); err != nil {
			return nil, err
		}
	}
	if err := os.Rename(metaPath, filepath.Join(destDir, "meta")); err != nil {
		return nil, err
	}

	return &Result{
		PartsWritten:   len(partHeaders),
		FallbackCount:  len(fallback),
		NewObjectCount: len(ordered),
	}, nil
}

// sortObjects gives packing a deterministic order; Go map iteration
// over newSet is randomized, and sorting by checksum makes repeated
// runs produce the same parts. (A part's header lists its objects in
// packing order whether or not they are sorted.)
func sortObjects(objs []pendingObject) {
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].csum.String() < objs[j].csum.String()
	})
}

// uncompressedFileSize returns a FILE object's uncompressed content
// size: the header's recorded size in archive mode, or the on-disk
// size itself in bare mode (where there is no separate compression
// layer at the object level).
func uncompressedFileSize(s *store.Store, csum checksum.Checksum, compressedSize uint64) (uint64, error) {
	if s.Mode() == store.Bare {
		return compressedSize, nil
	}
	cs, err := s.LoadContentStream(csum)
	if err != nil {
		return 0, err
	}
	defer cs.Content.Close()
	return uint64(cs.Header.Size), nil
}

// packedPart is one sealed part before compression: its payload bytes,
// its operation stream, and the ordered object list for its header.
type packedPart struct {
	payload []byte
	ops     []delta.Op
	objects []delta.PartObject
}

// packParts implements §4.H step 5: grow payload/operations per part,
// sealing and starting a new part whenever appending the next object
// would exceed maxUsize and the current part is non-empty.
func packParts(s *store.Store, objs []pendingObject, maxUsize uint64) ([]*packedPart, error) {
	var parts []*packedPart
	current := &packedPart{}

	for _, o := range objs {
		data, err := s.ReadRawObject(o.kind, o.csum)
		if err != nil {
			return nil, err
		}
		if len(current.objects) > 0 && uint64(len(current.payload))+uint64(len(data)) > maxUsize {
			parts = append(parts, current)
			current = &packedPart{}
		}
		offset := uint64(len(current.payload))
		current.payload = append(current.payload, data...)
		current.ops = append(current.ops, delta.Op{Offset: offset, Size: uint64(len(data))}, delta.Op{Close: true})
		current.objects = append(current.objects, delta.PartObject{Kind: o.kind, Checksum: o.csum})
	}
	if len(current.objects) > 0 {
		parts = append(parts, current)
	}
	return parts, nil
}

// writePart compresses and writes one sealed part to path, returning
// its header (§4.H step 6).
func writePart(path string, p *packedPart, compression delta.Compression) (delta.PartHeader, error) {
	f, err := os.Create(path)
	if err != nil {
		return delta.PartHeader{}, err
	}
	payload := &delta.PartPayload{Bytes: p.payload, Ops: p.ops}
	if err := delta.WritePartFile(f, compression, payload); err != nil {
		_ = f.Close()
		return delta.PartHeader{}, err
	}
	if err := f.Close(); err != nil {
		return delta.PartHeader{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return delta.PartHeader{}, err
	}
	return delta.PartHeader{
		Checksum:         checksum.OfBytes(raw),
		CompressedSize:   uint64(len(raw)),
		UncompressedSize: uint64(len(p.payload)),
		Objects:          p.objects,
	}, nil
}
