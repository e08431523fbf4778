package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrCorruptIndex is returned when an index file cannot be decoded.
var ErrCorruptIndex = errors.New("corrupt vector index file")

var indexMagic = [4]byte{'R', 'I', 'D', 'X'}

const (
	formatVersion uint32 = 1

	kindCodeFlat uint8 = 0
	kindCodeIVF  uint8 = 1

	// magic + version + kind + dim + nlist + nprobe + rows
	headerSize = 4 + 4 + 1 + 4 + 4 + 4 + 8
)

// Encode writes idx in the native little-endian format. Only *FlatIndex and
// *IVFIndex can be encoded.
func Encode(w io.Writer, idx Index) error {
	bw := bufio.NewWriter(w)
	var (
		kind          uint8
		dim           int
		nlist, nprobe int
		centroids     []float32
		data          []float32
		assign        []int32
	)
	switch x := idx.(type) {
	case *FlatIndex:
		x.mu.RLock()
		defer x.mu.RUnlock()
		kind, dim, data = kindCodeFlat, x.dimensions, x.data
	case *IVFIndex:
		x.mu.RLock()
		defer x.mu.RUnlock()
		if !x.trained {
			return ErrNotTrained
		}
		kind, dim, data = kindCodeIVF, x.dimensions, x.data
		nlist, nprobe, centroids, assign = x.nlist, x.nprobe, x.centroids, x.assign
	default:
		return fmt.Errorf("cannot encode index of type %T", idx)
	}
	rows := len(data) / dim

	le := binary.LittleEndian
	hdr := make([]byte, 0, headerSize)
	hdr = append(hdr, indexMagic[:]...)
	hdr = le.AppendUint32(hdr, formatVersion)
	hdr = append(hdr, kind)
	hdr = le.AppendUint32(hdr, uint32(dim))
	hdr = le.AppendUint32(hdr, uint32(nlist))
	hdr = le.AppendUint32(hdr, uint32(nprobe))
	hdr = le.AppendUint64(hdr, uint64(rows))
	if _, err := bw.Write(hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := bw.Write(float32SliceToBytes(centroids)); err != nil {
		return fmt.Errorf("write centroids: %w", err)
	}
	if kind == kindCodeIVF {
		buf := make([]byte, 0, 4*len(assign))
		for _, a := range assign {
			buf = le.AppendUint32(buf, uint32(a))
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write assignments: %w", err)
		}
	}
	if _, err := bw.Write(float32SliceToBytes(data)); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return bw.Flush()
}

// Decode reads an index written by Encode. When dimensions is positive the
// stored dimension must match it. The input must be consumed exactly.
func Decode(r io.Reader, dimensions int) (Index, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(raw) < headerSize || !bytes.Equal(raw[:4], indexMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	le := binary.LittleEndian
	if v := le.Uint32(raw[4:8]); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, v)
	}
	kind := raw[8]
	dim := int(le.Uint32(raw[9:13]))
	nlist := int(le.Uint32(raw[13:17]))
	nprobe := int(le.Uint32(raw[17:21]))
	rows64 := le.Uint64(raw[21:29])
	body := raw[headerSize:]

	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimensions %d", ErrCorruptIndex, dim)
	}
	if dimensions > 0 && dim != dimensions {
		return nil, fmt.Errorf("%w: file has %d, expected %d", ErrDimensionMismatch, dim, dimensions)
	}
	if rows64 > uint64(len(body)) {
		return nil, fmt.Errorf("%w: row count %d exceeds file size", ErrCorruptIndex, rows64)
	}
	rows := int(rows64)

	switch kind {
	case kindCodeFlat:
		if nlist != 0 {
			return nil, fmt.Errorf("%w: flat index with nlist %d", ErrCorruptIndex, nlist)
		}
		if len(body) != rows*dim*4 {
			return nil, fmt.Errorf("%w: expected %d bytes of vectors, got %d", ErrCorruptIndex, rows*dim*4, len(body))
		}
		idx, _ := NewFlatIndex(dim)
		idx.data = bytesToFloat32Slice(body)
		return idx, nil
	case kindCodeIVF:
		if nlist <= 0 {
			return nil, fmt.Errorf("%w: ivf index with nlist %d", ErrCorruptIndex, nlist)
		}
		want := nlist*dim*4 + rows*4 + rows*dim*4
		if len(body) != want {
			return nil, fmt.Errorf("%w: expected %d bytes of body, got %d", ErrCorruptIndex, want, len(body))
		}
		idx, _ := NewIVFIndex(dim, nlist, nprobe)
		off := nlist * dim * 4
		idx.centroids = bytesToFloat32Slice(body[:off])
		idx.assign = make([]int32, rows)
		for i := 0; i < rows; i++ {
			a := int32(le.Uint32(body[off+4*i:]))
			if a < 0 || int(a) >= nlist {
				return nil, fmt.Errorf("%w: row %d assigned to list %d", ErrCorruptIndex, i, a)
			}
			idx.assign[i] = a
			idx.lists[a] = append(idx.lists[a], i)
		}
		idx.data = bytesToFloat32Slice(body[off+rows*4:])
		idx.trained = true
		return idx, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorruptIndex, kind)
	}
}

// WriteIndexFile encodes idx to path, syncing before close.
func WriteIndexFile(idx Index, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := Encode(f, idx); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	return f.Close()
}

// ReadIndexFile decodes the index stored at path.
func ReadIndexFile(path string, dimensions int) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	return Decode(f, dimensions)
}

func float32SliceToBytes(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func bytesToFloat32Slice(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
