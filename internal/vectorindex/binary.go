package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// On-disk format, all fields little-endian:
//
//	magic     uint32  "EVIX"
//	version   uint16
//	dimension uint32
//	count     uint64
//	data      count*dimension float32
//
// The payload is the raw arena, so a load followed by a search reproduces
// bit-identical results for the same query.
const (
	indexMagic   uint32 = 0x45564958 // "EVIX"
	indexVersion uint16 = 1
)

// WriteTo writes the index to w in binary format. It implements
// [io.WriterTo].
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	for _, v := range []interface{}{
		indexMagic,
		indexVersion,
		uint32(f.dimension),
		uint64(f.Size()),
		f.data,
	} {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return cw.n, fmt.Errorf("vectorindex: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("vectorindex: flush: %w", err)
	}
	return cw.n, nil
}

// readChunkElems bounds how many float32 values are read per binary.Read
// call, so a snapshot header declaring a bogus count fails on the missing
// payload bytes instead of one huge upfront allocation.
const readChunkElems = 1 << 16

// ReadFrom reads a binary index from r. A bad magic number, unsupported
// version, implausible count, or truncated payload is reported as corruption.
func ReadFrom(r io.Reader) (*Flat, error) {
	br := bufio.NewReader(r)

	var (
		magic   uint32
		version uint16
		dim     uint32
		count   uint64
	)
	for _, v := range []interface{}{&magic, &version, &dim, &count} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("vectorindex: read header: %w", err)
		}
	}

	if magic != indexMagic {
		return nil, fmt.Errorf("vectorindex: bad magic 0x%08x, file is not an index snapshot", magic)
	}
	if version != indexVersion {
		return nil, fmt.Errorf("vectorindex: unsupported format version %d", version)
	}
	if dim == 0 {
		return nil, fmt.Errorf("vectorindex: snapshot declares zero dimension")
	}

	// The header is untrusted input. Reject counts whose payload size
	// overflows or could not fit in memory before allocating anything.
	elems, ok := mulUint64(count, uint64(dim))
	if !ok || elems > math.MaxInt/4 {
		return nil, fmt.Errorf("vectorindex: snapshot declares %d vectors of dimension %d, payload size out of range", count, dim)
	}

	f := &Flat{dimension: int(dim)}
	f.data = make([]float32, 0, min(elems, readChunkElems))
	buf := make([]float32, min(elems, readChunkElems))
	for read := uint64(0); read < elems; {
		n := elems - read
		if n > readChunkElems {
			n = readChunkElems
		}
		chunk := buf[:n]
		if err := binary.Read(br, binary.LittleEndian, chunk); err != nil {
			return nil, fmt.Errorf("vectorindex: read %d vectors: %w", count, err)
		}
		f.data = append(f.data, chunk...)
		read += n
	}
	return f, nil
}

// mulUint64 multiplies a*b, reporting false on overflow.
func mulUint64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// SaveToFile writes the index to path atomically: the snapshot is written to
// a temp file in the same directory, fsynced, then renamed over the target.
// A crash mid-write leaves the previous snapshot untouched.
func (f *Flat) SaveToFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("vectorindex: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vectorindex: sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vectorindex: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("vectorindex: rename into %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads an index snapshot previously written by SaveToFile.
func LoadFromFile(path string) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open %s: %w", path, err)
	}
	defer file.Close()

	f, err := ReadFrom(file)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: load %s: %w", path, err)
	}
	return f, nil
}

// countingWriter tracks the total number of bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
