package store

import "github.com/pkg/errors"

// ErrDuplicateNonce is returned by InsertReceived when the nonce uniqueness
// constraint rejects the insert (spec.md §4.2: "violates a uniqueness
// constraint on nonce ⇒ error distinguishable by caller").
var ErrDuplicateNonce = errors.New("nonce already used by another transfer")

// ErrNotFound is returned by FindByID/FindByNonce when no row matches.
var ErrNotFound = errors.New("transfer not found")

// ErrUnavailable is returned by any Store method when the database
// connection could not be established at startup, so the ingress layer can
// surface a single degraded-mode condition instead of panicking (spec.md
// §4.2).
var ErrUnavailable = errors.New("store is unavailable")
