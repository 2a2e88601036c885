// Package fingerprint computes content hashes of payload streams.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

// chunkSize bounds how much of the payload is held in memory at once,
// so arbitrarily large uploads can be fingerprinted.
const chunkSize = 2 * 1024 * 1024

// Length returns the byte count of the stream and resets it to the start.
func Length(rs io.ReadSeeker) (int64, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seeking to end of payload: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding payload: %w", err)
	}
	return size, nil
}

// Compute reads the whole stream in bounded chunks and returns the hex
// md5 fingerprint plus the number of bytes read. The stream is rewound
// afterward so downstream consumers can re-read it.
func Compute(rs io.ReadSeeker) (string, int64, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("rewinding payload: %w", err)
	}

	hash := md5.New()
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := rs.Read(buf)
		if n > 0 {
			total += int64(n)
			hash.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("reading payload: %w", err)
		}
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("rewinding payload: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), total, nil
}
