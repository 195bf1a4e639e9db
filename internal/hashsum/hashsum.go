// Package hashsum computes content digests for reference-file verification.
//
// The validator (internal/validate) needs to check a file's content against
// a manifest-supplied list of expected digests without knowing in advance
// whether the manifest author used MD5 or SHA-1; the algorithm is inferred
// from the expected digest's hex length.
package hashsum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm int

const (
	// MD5 produces a 32 hex character digest.
	MD5 Algorithm = iota
	// SHA1 produces a 40 hex character digest.
	SHA1
)

// AlgorithmForDigest infers the algorithm from an expected hex digest's
// length. It returns false if the length matches neither supported
// algorithm.
func AlgorithmForDigest(expectedHex string) (Algorithm, bool) {
	switch len(expectedHex) {
	case 32:
		return MD5, true
	case 40:
		return SHA1, true
	default:
		return 0, false
	}
}

func newHasher(alg Algorithm) hash.Hash {
	switch alg {
	case SHA1:
		return sha1.New()
	default:
		return md5.New()
	}
}

// File computes the hex digest of a file's content using the given
// algorithm.
func File(path string, alg Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashsum: open %s: %w", path, err)
	}
	defer f.Close()
	return Reader(f, alg)
}

// Reader computes the hex digest of an io.Reader's content.
func Reader(r io.Reader, alg Algorithm) (string, error) {
	h := newHasher(alg)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes computes the hex digest of an in-memory buffer.
func Bytes(data []byte, alg Algorithm) string {
	h := newHasher(alg)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MatchesAny reports whether the file at path matches any of the given
// expected hex digests (spec §4.3). Each digest is compared,
// case-insensitively, against the file's MD5 or SHA-1 as chosen by the
// digest's length; each algorithm is computed at most once, and digests
// of any other length are skipped.
func MatchesAny(path string, expected []string) (bool, error) {
	if len(expected) == 0 {
		return true, nil
	}

	var md5Sum, sha1Sum string
	var md5Done, sha1Done bool

	for _, want := range expected {
		alg, ok := AlgorithmForDigest(want)
		if !ok {
			continue
		}
		var got string
		var err error
		switch alg {
		case MD5:
			if !md5Done {
				md5Sum, err = File(path, MD5)
				if err != nil {
					return false, err
				}
				md5Done = true
			}
			got = md5Sum
		case SHA1:
			if !sha1Done {
				sha1Sum, err = File(path, SHA1)
				if err != nil {
					return false, err
				}
				sha1Done = true
			}
			got = sha1Sum
		}
		if equalFoldHex(got, want) {
			return true, nil
		}
	}
	return false, nil
}

func equalFoldHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
