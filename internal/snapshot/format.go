package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// VectorsMagic identifies the index artifact ("NVIX").
	VectorsMagic uint32 = 0x5849564E
	// IDsMagic identifies the mapping artifact ("NVID").
	IDsMagic uint32 = 0x4449564E
	// FormatVersion is the artifact format written by this package.
	FormatVersion uint16 = 1

	maxCount = 1 << 31
	maxIDLen = 1 << 20
)

var (
	// ErrNotFound is returned by Load when no snapshot has been committed.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt is returned when a committed snapshot cannot be read consistently.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// header prefixes both artifacts. Dim is zero in the mapping artifact.
// Checksum is the CRC32 (IEEE) of the uncompressed payload.
type header struct {
	Magic    uint32
	Version  uint16
	Codec    Codec
	_        uint8
	Dim      uint32
	Checksum uint32
	Count    uint64
}

func writeHeader(w io.Writer, h *header) error {
	h.Version = FormatVersion
	return binary.Write(w, binary.LittleEndian, h)
}

func readHeader(r io.Reader, magic uint32) (*header, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, corruptf("read header: %v", err)
	}
	if h.Magic != magic {
		return nil, corruptf("bad magic %#x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, corruptf("unsupported format version %d", h.Version)
	}
	if h.Count > maxCount {
		return nil, corruptf("implausible count %d", h.Count)
	}
	return &h, nil
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
