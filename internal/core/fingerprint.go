// Package core implements erect's task graph: fingerprinted files, tasks
// with static and dynamically discovered dependencies, a cooperative
// scheduler bounded by a concurrency permit, and the persistent cache that
// makes incremental builds possible.
package core

import (
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// Fingerprint identifies a file's content version cheaply: mtime is
// compared first, and only on mismatch do we fall back to hashing the full
// contents. This absorbs false negatives from touch(1), restoring a backup
// or any other mtime-only change without paying the hashing cost on the
// common path.
type Fingerprint struct {
	MtimeNS int64
	Hash    [sha256.Size]byte
}

// CreateFingerprint reads path and records its current mtime and SHA-256.
// The file must already exist.
func CreateFingerprint(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, xerrors.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Fingerprint{}, xerrors.Errorf("fingerprint %s: %w", path, err)
	}

	hash, err := hashFile(f)
	if err != nil {
		return Fingerprint{}, xerrors.Errorf("fingerprint %s: %w", path, err)
	}

	return Fingerprint{
		MtimeNS: fi.ModTime().UnixNano(),
		Hash:    hash,
	}, nil
}

// Check reports whether path still matches fp: false if path is absent,
// true on an mtime match (the fast path), otherwise true iff the SHA-256 of
// the current content still matches.
func (fp Fingerprint) Check(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	if fi.ModTime().UnixNano() == fp.MtimeNS {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	hash, err := hashFile(f)
	if err != nil {
		return false
	}
	return hash == fp.Hash
}

func hashFile(r io.Reader) ([sha256.Size]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [sha256.Size]byte{}, err
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
