package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// Source supplies the position-aligned vectors and identifiers written into a snapshot.
type Source interface {
	Dimension() int
	Len() int
	Vector(pos int) []float32
	ID(pos int) string
}

const (
	readChunk = 64 << 10
	// maxPrealloc caps capacity reserved from header counts; slices grow past
	// it only as payload is actually read.
	maxPrealloc = 1 << 20
)

func encodeFloats(dst []byte, v []float32) []byte {
	dst = dst[:0]
	for _, f := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

func writeVectors(w io.Writer, src Source, codec Codec) error {
	dim, n := src.Dimension(), src.Len()
	buf := make([]byte, 0, dim*4)
	crc := crc32.NewIEEE()
	for i := 0; i < n; i++ {
		v := src.Vector(i)
		if len(v) != dim {
			return fmt.Errorf("vector %d has length %d, expected %d", i, len(v), dim)
		}
		buf = encodeFloats(buf, v)
		crc.Write(buf)
	}
	h := &header{Magic: VectorsMagic, Codec: codec, Dim: uint32(dim), Checksum: crc.Sum32(), Count: uint64(n)}
	if err := writeHeader(w, h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	cw, err := codec.compressor(w)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		buf = encodeFloats(buf, src.Vector(i))
		if _, err := cw.Write(buf); err != nil {
			cw.Close()
			return fmt.Errorf("write vector %d: %w", i, err)
		}
	}
	return cw.Close()
}

func readVectors(r io.Reader, dim int, count uint64) ([]float32, error) {
	h, err := readHeader(r, VectorsMagic)
	if err != nil {
		return nil, err
	}
	if int(h.Dim) != dim {
		return nil, corruptf("index artifact dimension %d, manifest says %d", h.Dim, dim)
	}
	if h.Count != count {
		return nil, corruptf("index artifact holds %d vectors, manifest says %d", h.Count, count)
	}
	total := count * uint64(dim)
	if total > math.MaxUint32 {
		return nil, corruptf("implausible payload of %d floats", total)
	}
	dr, err := h.Codec.decompressor(r)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	data := make([]float32, 0, min(total, maxPrealloc))
	crc := crc32.NewIEEE()
	raw := make([]byte, readChunk)
	remaining := total * 4
	for remaining > 0 {
		chunk := raw
		if uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if _, err := io.ReadFull(dr, chunk); err != nil {
			return nil, corruptf("read vectors: %v", err)
		}
		crc.Write(chunk)
		for i := 0; i < len(chunk); i += 4 {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(chunk[i:])))
		}
		remaining -= uint64(len(chunk))
	}
	if err := expectEOF(dr); err != nil {
		return nil, err
	}
	if crc.Sum32() != h.Checksum {
		return nil, corruptf("index artifact checksum mismatch")
	}
	return data, nil
}

func writeIDs(w io.Writer, src Source, codec Codec) error {
	n := src.Len()
	var lenBuf [binary.MaxVarintLen64]byte
	crc := crc32.NewIEEE()
	for i := 0; i < n; i++ {
		id := src.ID(i)
		crc.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(id)))])
		io.WriteString(crc, id)
	}
	h := &header{Magic: IDsMagic, Codec: codec, Checksum: crc.Sum32(), Count: uint64(n)}
	if err := writeHeader(w, h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	cw, err := codec.compressor(w)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		id := src.ID(i)
		if _, err := cw.Write(lenBuf[:binary.PutUvarint(lenBuf[:], uint64(len(id)))]); err != nil {
			cw.Close()
			return fmt.Errorf("write id %d: %w", i, err)
		}
		if _, err := io.WriteString(cw, id); err != nil {
			cw.Close()
			return fmt.Errorf("write id %d: %w", i, err)
		}
	}
	return cw.Close()
}

func readIDs(r io.Reader, count uint64) ([]string, error) {
	h, err := readHeader(r, IDsMagic)
	if err != nil {
		return nil, err
	}
	if h.Count != count {
		return nil, corruptf("mapping artifact holds %d ids, manifest says %d", h.Count, count)
	}
	dr, err := h.Codec.decompressor(r)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	br := bufio.NewReaderSize(dr, readChunk)
	ids := make([]string, 0, min(count, maxPrealloc))
	var lenBuf [binary.MaxVarintLen64]byte
	crc := crc32.NewIEEE()
	for i := uint64(0); i < count; i++ {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, corruptf("read id %d length: %v", i, err)
		}
		if n > maxIDLen {
			return nil, corruptf("id %d length %d exceeds limit", i, n)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, corruptf("read id %d: %v", i, err)
		}
		crc.Write(lenBuf[:binary.PutUvarint(lenBuf[:], n)])
		crc.Write(b)
		ids = append(ids, string(b))
	}
	if err := expectEOF(br); err != nil {
		return nil, err
	}
	if crc.Sum32() != h.Checksum {
		return nil, corruptf("mapping artifact checksum mismatch")
	}
	return ids, nil
}

func expectEOF(r io.Reader) error {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	switch {
	case err == nil:
		return corruptf("trailing data after payload")
	case errors.Is(err, io.EOF):
		return nil
	default:
		return corruptf("read trailer: %v", err)
	}
}
