// Package evidence stores opaque evidence blobs and hands back content-hash
// references. The engine only ever stores and compares references.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	dErrors "umoja/pkg/domain-errors"
)

const refPrefix = "sha256:"

// Ref is a content-hash reference of the form "sha256:<64 hex chars>".
type Ref string

// Store accepts blobs and returns their reference. Storing the same bytes
// twice returns the same reference.
type Store interface {
	Put(ctx context.Context, data []byte) (Ref, error)
	Exists(ctx context.Context, ref Ref) (bool, error)
}

// RefOf computes the reference of data.
func RefOf(data []byte) Ref {
	sum := sha256.Sum256(data)
	return Ref(refPrefix + hex.EncodeToString(sum[:]))
}

// ParseRef validates a caller-supplied reference.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	digest, ok := strings.CutPrefix(s, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", dErrors.Newf(dErrors.CodeValidation, "evidence ref %q must be sha256:<hex>", s)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", dErrors.Newf(dErrors.CodeValidation, "evidence ref %q is not hex", s)
	}
	return Ref(strings.ToLower(s)), nil
}

// ParseRefs validates a batch of references, dropping duplicates.
func ParseRefs(raw []string) ([]Ref, error) {
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one evidence ref is required")
	}
	seen := make(map[Ref]struct{}, len(raw))
	out := make([]Ref, 0, len(raw))
	for _, r := range raw {
		ref, err := ParseRef(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}

// Digest returns the hex part of the reference.
func (r Ref) Digest() string {
	return strings.TrimPrefix(string(r), refPrefix)
}

func (r Ref) String() string { return string(r) }

// CheckSize rejects blobs above max bytes. A non-positive max disables the check.
func CheckSize(data []byte, max int64) error {
	if len(data) == 0 {
		return dErrors.New(dErrors.CodeValidation, "evidence blob is empty")
	}
	if max > 0 && int64(len(data)) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("evidence blob exceeds %d bytes", max))
	}
	return nil
}
