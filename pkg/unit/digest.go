package unit

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/blake2b"
)

const DigestFileName = "digest"

// Digest computes a keyless BLAKE2b-256 digest over every data file in
// dir (sorted by name, commit_info and digest itself excluded), the
// way recovery verifies a unit's data hasn't silently bit-rotted since
// it was written. Unit files are long-lived immutable artifacts read
// by F+C, SI-creation, and recovery, so a stronger digest than the
// teacher's SSTable/WAL CRC32 is warranted here.
func Digest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == CommitInfoFileName || e.Name() == DigestFileName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		if _, err := h.Write(data); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteDigest computes and durably writes the digest file for dir.
// Called after all data files are written but, like commit-info,
// before the unit is considered committed.
func WriteDigest(dir string) error {
	sum, err := Digest(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, DigestFileName)
	if err := os.WriteFile(path, []byte(sum), 0644); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// VerifyDigest recomputes dir's digest and compares it against the
// stored one. A missing digest file is treated as valid (pre-digest
// units, or units this package didn't itself produce).
func VerifyDigest(dir string) (bool, error) {
	want, err := os.ReadFile(filepath.Join(dir, DigestFileName))
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	got, err := Digest(dir)
	if err != nil {
		return false, err
	}
	return got == string(want), nil
}
