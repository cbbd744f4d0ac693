// Package persistence provides the on-disk safety primitives: CRC32C
// checksums, atomic file replacement and the sectioned container format
// used for snapshot images.
package persistence

import (
	"fmt"
	"hash/crc32"
	"io"
)

// crcTable is the Castagnoli polynomial, hardware accelerated on most CPUs.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// ChecksumMismatchError reports corrupted data detected on read.
type ChecksumMismatchError struct {
	Name     string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("persistence: checksum mismatch in %q: expected %08x, got %08x", e.Name, e.Expected, e.Actual)
}

// ChecksumWriter computes a running CRC32C of everything written through it.
type ChecksumWriter struct {
	w   io.Writer
	sum uint32
	n   int64
}

// NewChecksumWriter wraps w.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w}
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.sum = crc32.Update(cw.sum, crcTable, p[:n])
	cw.n += int64(n)
	return n, err
}

// Sum returns the checksum of the bytes written so far.
func (cw *ChecksumWriter) Sum() uint32 { return cw.sum }

// Count returns the number of bytes written so far.
func (cw *ChecksumWriter) Count() int64 { return cw.n }
