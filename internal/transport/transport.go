// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the narrow fetcher contract the pull
// engine depends on. It is a contract only: no HTTP client lives here,
// matching the scope boundary that draws the line at "what the engine
// needs," not "how bytes move over the wire."
//
// Grounded on pkg/zeta/odb/transfer.go's fetcher-collaborator shape
// from antgroup-hugescm (an injected interface the transfer/pull logic
// drives, rather than a concrete HTTP type baked into the engine).
package transport

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Fetcher methods when the remote responds
// 404/NOENT for a requested URI.
var ErrNotFound = errors.New("rfsdb: remote object not found")

// Fetcher is the pull engine's sole dependency on the network. A real
// implementation resolves uri against a remote's base URL.
type Fetcher interface {
	// StreamURI performs a full-body GET, returning a stream the
	// caller must close. Returns ErrNotFound if the remote has no such
	// object.
	StreamURI(ctx context.Context, uri string) (io.ReadCloser, error)

	// RequestURIWithPartial performs a resumable GET, writing into a
	// caller-provided tmp directory and returning the path to the
	// downloaded file. If a partial download already exists at that
	// path it resumes via a Range request. Returns ErrNotFound if the
	// remote has no such object.
	RequestURIWithPartial(ctx context.Context, uri, tmpDir string) (path string, err error)

	// BytesTransferred reports the cumulative byte count across all
	// fetches issued by this Fetcher, for progress reporting.
	BytesTransferred() uint64
}
