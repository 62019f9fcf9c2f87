package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/treesync/treesync/internal/store"
)

// Method is one file-comparison strategy. Name matching is implicit: the
// evaluator only ever sees a source/target pair that already share a name.
type Method string

const (
	// MethodNone marks a decision made by existence alone, or the decision
	// to always recopy when the set is configured with ForceUnequal.
	MethodNone    Method = "None"
	MethodLength  Method = "Length"
	MethodModTime Method = "ModTime"
	MethodDigest  Method = "Digest"
)

// MethodSet selects which comparison methods a run applies. The zero value
// degenerates to name-only matching: existence decides create vs. skip and
// content is never compared.
type MethodSet struct {
	// ForceUnequal treats every pair as unequal so every source file is
	// recopied, regardless of the other flags.
	ForceUnequal bool

	Length  bool
	ModTime bool
	Digest  bool
}

// DefaultMethods compares by length and modification time.
func DefaultMethods() MethodSet {
	return MethodSet{Length: true, ModTime: true}
}

// ParseMethods builds a MethodSet from comma-separated names as accepted
// on the command line: "length", "modtime", "digest", "none".
func ParseMethods(spec string) (MethodSet, error) {
	var set MethodSet
	for _, name := range strings.Split(spec, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "none":
			set.ForceUnequal = true
		case "length":
			set.Length = true
		case "modtime":
			set.ModTime = true
		case "digest":
			set.Digest = true
		default:
			return MethodSet{}, fmt.Errorf("unknown equality method %q", name)
		}
	}
	return set, nil
}

func (s MethodSet) String() string {
	var parts []string
	if s.ForceUnequal {
		parts = append(parts, "none")
	}
	if s.Length {
		parts = append(parts, "length")
	}
	if s.ModTime {
		parts = append(parts, "modtime")
	}
	if s.Digest {
		parts = append(parts, "digest")
	}
	if len(parts) == 0 {
		return "name-only"
	}
	return strings.Join(parts, ",")
}

// Equal decides whether a source and target file are interchangeable,
// cheapest method first, short-circuiting on the first proof of
// inequality. It returns the method that decided the outcome: the
// disproving method for an unequal pair, the strongest passing method for
// an equal one.
//
// The digest path reads both streams fully and is only reached when the
// cheaper methods did not disprove equality.
func (s MethodSet) Equal(ctx context.Context, src, dst store.File) (Method, bool, error) {
	if s.ForceUnequal {
		return MethodNone, false, nil
	}

	if s.Length && src.Size() != dst.Size() {
		return MethodLength, false, nil
	}

	if s.ModTime && !sameTime(src.ModTime(), dst.ModTime()) {
		return MethodModTime, false, nil
	}

	if s.Digest {
		srcSum, err := fileDigest(ctx, src)
		if err != nil {
			return MethodDigest, false, err
		}
		dstSum, err := fileDigest(ctx, dst)
		if err != nil {
			return MethodDigest, false, err
		}
		return MethodDigest, bytes.Equal(srcSum, dstSum), nil
	}

	switch {
	case s.ModTime:
		return MethodModTime, true, nil
	case s.Length:
		return MethodLength, true, nil
	default:
		return MethodNone, true, nil
	}
}

// sameTime compares timestamps, tolerating coarse backend clocks: when
// either side carries no sub-second component the comparison happens at
// whole seconds, so second-granularity backends do not force recopies.
// Two sub-second-precise timestamps compare exactly.
func sameTime(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	if a.Equal(b) {
		return true
	}
	if a.Nanosecond() == 0 || b.Nanosecond() == 0 {
		return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
	}
	return false
}

func fileDigest(ctx context.Context, f store.File) ([]byte, error) {
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return nil, store.WrapErr("open", store.DisplayPath(f), err)
	}
	return h.Sum(nil), nil
}
