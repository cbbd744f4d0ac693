package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Container layout:
//
//	header:  magic (8) | version (u32) | reserved (u32)
//	body:    lz4-compressed section payloads, back to back
//	dir:     JSON array of section descriptors
//	footer:  dir offset (u64) | dir length (u64) | magic (8)
//
// Section checksums cover the raw (uncompressed) payload.
var containerMagic = [8]byte{'v', 'd', 'b', 's', 'n', 'a', 'p', '1'}

const containerVersion = 1

type sectionInfo struct {
	Name      string `json:"name"`
	Offset    int64  `json:"offset"`
	Length    int64  `json:"length"`
	RawLength int64  `json:"raw_length"`
	CRC32     uint32 `json:"crc32"`
}

// ContainerBuilder accumulates named sections and serializes them as a
// checksummed container.
type ContainerBuilder struct {
	body     bytes.Buffer
	sections []sectionInfo
}

// NewContainerBuilder returns an empty builder.
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{}
}

// AddSection appends a section with the given raw payload.
func (b *ContainerBuilder) AddSection(name string, data []byte) error {
	offset := int64(b.body.Len())

	zw := lz4.NewWriter(&b.body)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compress section %q: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress section %q: %w", name, err)
	}

	b.sections = append(b.sections, sectionInfo{
		Name:      name,
		Offset:    offset,
		Length:    int64(b.body.Len()) - offset,
		RawLength: int64(len(data)),
		CRC32:     Checksum(data),
	})

	return nil
}

// AddSectionFrom appends a section produced by an io.WriterTo.
func (b *ContainerBuilder) AddSectionFrom(name string, wt io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return fmt.Errorf("serialize section %q: %w", name, err)
	}
	return b.AddSection(name, buf.Bytes())
}

// WriteTo serializes the container.
func (b *ContainerBuilder) WriteTo(w io.Writer) (int64, error) {
	dir, err := json.Marshal(b.sections)
	if err != nil {
		return 0, fmt.Errorf("marshal directory: %w", err)
	}

	var n int64

	header := make([]byte, 16)
	copy(header[0:8], containerMagic[:])
	binary.LittleEndian.PutUint32(header[8:12], containerVersion)

	written, err := w.Write(header)
	n += int64(written)
	if err != nil {
		return n, err
	}

	written64, err := b.body.WriteTo(w)
	n += written64
	if err != nil {
		return n, err
	}

	dirOffset := n
	written, err = w.Write(dir)
	n += int64(written)
	if err != nil {
		return n, err
	}

	footer := make([]byte, 24)
	binary.LittleEndian.PutUint64(footer[0:8], uint64(dirOffset))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(dir)))
	copy(footer[16:24], containerMagic[:])

	written, err = w.Write(footer)
	n += int64(written)
	if err != nil {
		return n, err
	}

	return n, nil
}

// Bytes serializes the container into a byte slice.
func (b *ContainerBuilder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Container is a parsed, read-only container.
type Container struct {
	data     []byte
	sections map[string]sectionInfo
}

// OpenContainer parses container bytes, validating magics and the
// directory.
func OpenContainer(data []byte) (*Container, error) {
	if len(data) < 16+24 {
		return nil, fmt.Errorf("persistence: container too short (%d bytes)", len(data))
	}

	if !bytes.Equal(data[0:8], containerMagic[:]) {
		return nil, fmt.Errorf("persistence: bad container magic")
	}
	if version := binary.LittleEndian.Uint32(data[8:12]); version != containerVersion {
		return nil, fmt.Errorf("persistence: unsupported container version %d", version)
	}

	footer := data[len(data)-24:]
	if !bytes.Equal(footer[16:24], containerMagic[:]) {
		return nil, fmt.Errorf("persistence: bad container footer")
	}

	dirOffset := binary.LittleEndian.Uint64(footer[0:8])
	dirLength := binary.LittleEndian.Uint64(footer[8:16])
	if dirOffset+dirLength > uint64(len(data)-24) {
		return nil, fmt.Errorf("persistence: directory out of bounds")
	}

	var infos []sectionInfo
	if err := json.Unmarshal(data[dirOffset:dirOffset+dirLength], &infos); err != nil {
		return nil, fmt.Errorf("persistence: parse directory: %w", err)
	}

	sections := make(map[string]sectionInfo, len(infos))
	for _, info := range infos {
		sections[info.Name] = info
	}

	return &Container{data: data, sections: sections}, nil
}

// Has reports whether the container holds a section.
func (c *Container) Has(name string) bool {
	_, ok := c.sections[name]
	return ok
}

// Sections returns the names of all sections.
func (c *Container) Sections() []string {
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}
	return names
}

// Section decompresses and checksum-verifies a section payload.
func (c *Container) Section(name string) ([]byte, error) {
	info, ok := c.sections[name]
	if !ok {
		return nil, fmt.Errorf("persistence: no section %q", name)
	}

	start := 16 + info.Offset
	end := start + info.Length
	if start < 16 || end > int64(len(c.data)) {
		return nil, fmt.Errorf("persistence: section %q out of bounds", name)
	}

	zr := lz4.NewReader(bytes.NewReader(c.data[start:end]))
	raw := make([]byte, info.RawLength)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("persistence: decompress section %q: %w", name, err)
	}

	if sum := Checksum(raw); sum != info.CRC32 {
		return nil, &ChecksumMismatchError{Name: name, Expected: info.CRC32, Actual: sum}
	}

	return raw, nil
}
