package modelindex

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// chunkSize caps each sampled region of the file.
const chunkSize = 15 * 1024 * 1024

// QuickHash computes the sampled model identity hash: the file length plus
// three fixed-offset chunks (start, middle, end) fed length-prefixed through
// blake3-256. Stable across moves, unstable under content change.
func QuickHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	size := info.Size()

	h := blake3.New(32, nil)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(size))
	h.Write(lenBuf[:])

	offsets := []int64{0, maxInt64(0, (size-chunkSize)/2), maxInt64(0, size-chunkSize)}
	buf := make([]byte, chunkSize)
	for _, off := range offsets {
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return "", 0, fmt.Errorf("failed to sample %s at offset %d: %w", path, off, err)
		}
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(n))
		h.Write(lenBuf[:])
		h.Write(buf[:n])
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// FullHash computes the whole-file blake3 hash used as a collision
// tie-breaker when two files share a quick hash.
func FullHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
