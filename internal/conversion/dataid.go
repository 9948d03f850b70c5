package conversion

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const maxDataIDLen = 128

// DataIDFor derives the caller-supplied identifier for a file:
// "<stem>.<ext>-id". Characters the service rejects become "_", and long
// names are shortened with a hash suffix so IDs stay unique.
func DataIDFor(path string) string {
	return dataID(filepath.Base(path), "")
}

// PathDataID is DataIDFor with a hash of the full path in the suffix, for a
// file whose base name is already taken by another file in the same run.
func PathDataID(path string) string {
	return dataID(filepath.Base(path), path)
}

// ShortHash is the eight hex digit prefix of the SHA-1 of s.
func ShortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:4])
}

func dataID(base, key string) string {
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	id := b.String() + "-id"
	if key == "" && len(id) <= maxDataIDLen && id == base+"-id" {
		return id
	}
	if key == "" {
		key = base
	}
	suffix := "-" + ShortHash(key) + "-id"
	stem := strings.TrimSuffix(id, "-id")
	if len(stem)+len(suffix) > maxDataIDLen {
		stem = stem[:maxDataIDLen-len(suffix)]
	}
	return stem + suffix
}

// Split breaks files into sub-batches of at most size files.
func Split(files []File, size int) [][]File {
	if size <= 0 || len(files) <= size {
		if len(files) == 0 {
			return nil
		}
		return [][]File{files}
	}
	var out [][]File
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		out = append(out, files[start:end])
	}
	return out
}
