// Package signature computes comparable fingerprints of entity state.
//
// A Signature summarises everything about an entity (a dataset, a detector
// configuration, an external binary) whose change must invalidate cached
// results. Two signatures built from identical state compare equal; any
// relevant change produces a different value. Equality is the only cache
// validity criterion: there is no versioning or expiry.
//
// Signatures must be cheap to compute relative to the work they guard. They
// are derived from file stamps (path, size, modification time) and from a
// deterministic serialization of configuration options, never from the
// content the guarded computation would produce.
//
// # Building Signatures
//
//	sig, err := signature.New().
//	    String("circles").
//	    Options(opts).
//	    File("/usr/local/bin/detector").
//	    Sum()
//
// Every field is length-prefixed before hashing so that adjacent fields can
// never be confused ("ab"+"c" and "a"+"bc" produce different signatures).
package signature

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Signature is an opaque, comparable fingerprint.
//
// The zero value (Empty) is the sentinel for "never computed" and never
// equals a signature produced by Sum.
type Signature string

// Empty is the sentinel signature of an entity that has not been computed.
const Empty Signature = ""

// IsEmpty reports whether s is the sentinel value.
func (s Signature) IsEmpty() bool {
	return s == Empty
}

// Short returns the first 12 characters of the signature, for logs.
func (s Signature) Short() string {
	if len(s) <= 12 {
		return string(s)
	}
	return string(s[:12])
}

// Builder accumulates fields and produces a Signature.
//
// A Builder records the first error it encounters; subsequent calls are
// no-ops and Sum returns that error. This keeps call chains short.
type Builder struct {
	digest *xxhash.Digest
	fields int
	err    error
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{digest: xxhash.New()}
}

func (b *Builder) write(tag byte, data []byte) {
	if b.err != nil {
		return
	}
	var prefix [9]byte
	prefix[0] = tag
	binary.BigEndian.PutUint64(prefix[1:], uint64(len(data)))
	_, _ = b.digest.Write(prefix[:])
	_, _ = b.digest.Write(data)
	b.fields++
}

// String adds a string field.
func (b *Builder) String(s string) *Builder {
	b.write('s', []byte(s))
	return b
}

// Int adds an integer field.
func (b *Builder) Int(v int64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	b.write('i', buf[:])
	return b
}

// Signature folds another signature into this one.
func (b *Builder) Signature(s Signature) *Builder {
	b.write('g', []byte(s))
	return b
}

// Options adds the JSON serialization of v.
//
// Struct fields serialize in declaration order and map keys in sorted order,
// so equal option values always produce equal bytes.
func (b *Builder) Options(v any) *Builder {
	if b.err != nil {
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("serialize options: %w", err)
		return b
	}
	b.write('o', data)
	return b
}

// File adds the stamp (path, size, modification time) of a single file.
//
// The file content is not read. A missing file is an error: callers that
// tolerate absence should check for it first and fold a marker instead.
func (b *Builder) File(path string) *Builder {
	if b.err != nil {
		return b
	}
	info, err := os.Stat(path)
	if err != nil {
		b.err = fmt.Errorf("stat %s: %w", path, err)
		return b
	}
	b.stamp(path, info)
	return b
}

// Files adds stamps for every path, in sorted order, relative to root.
//
// Paths are made relative to root before hashing so that moving a whole
// dataset directory does not invalidate its signature.
func (b *Builder) Files(root string, paths []string) *Builder {
	if b.err != nil {
		return b
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	b.Int(int64(len(sorted)))
	for _, p := range sorted {
		info, err := os.Stat(p)
		if err != nil {
			b.err = fmt.Errorf("stat %s: %w", p, err)
			return b
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		b.stamp(filepath.ToSlash(rel), info)
	}
	return b
}

func (b *Builder) stamp(name string, info fs.FileInfo) {
	b.String(name)
	b.Int(info.Size())
	b.Int(info.ModTime().UnixNano())
}

// Err returns the first error recorded by the builder, if any.
func (b *Builder) Err() error {
	return b.err
}

// Sum returns the accumulated Signature.
//
// A builder with no fields still produces a non-empty signature, so Sum
// never returns Empty with a nil error.
func (b *Builder) Sum() (Signature, error) {
	if b.err != nil {
		return Empty, b.err
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], b.digest.Sum64())
	return Signature(fmt.Sprintf("%s-%d", hex.EncodeToString(out[:]), b.fields)), nil
}

// MustSum is like Sum but panics on error. Use only with builders that
// cannot fail (no File, Files or Options fields).
func (b *Builder) MustSum() Signature {
	s, err := b.Sum()
	if err != nil {
		panic(err)
	}
	return s
}
