// Package mrc reads and writes volumetric image files in the MRC2014
// format used for tomograms and extracted particles.
//
// Reads are windowed: a sub-volume is fetched through io.ReaderAt one
// row at a time, so extracting particles from a large tomogram never
// loads the whole volume. Files are opened per dataset and closed when
// the dataset is done; nothing is cached across calls.
package mrc

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// HeaderSize is the fixed MRC main header length in bytes.
const HeaderSize = 1024

// Voxel sample modes. Only the modes produced by common tomography
// pipelines are supported.
const (
	ModeInt8    int32 = 0
	ModeInt16   int32 = 1
	ModeFloat32 int32 = 2
	ModeUint16  int32 = 6
)

// Byte offsets of the header words accessed directly.
const (
	offNX     = 0
	offNY     = 4
	offNZ     = 8
	offMode   = 12
	offMX     = 28
	offCellA  = 40
	offDMin   = 76
	offDMax   = 80
	offDMean  = 84
	offNSymBT = 92
	offMap    = 208
	offMachSt = 212
	offRMS    = 216
)

func voxelBytes(mode int32) (int, error) {
	switch mode {
	case ModeInt8:
		return 1, nil
	case ModeInt16, ModeUint16:
		return 2, nil
	case ModeFloat32:
		return 4, nil
	}
	return 0, fmt.Errorf("unsupported MRC mode %d", mode)
}

// Header is the 1024-byte MRC main header plus the extended header
// blob. The raw bytes are retained so that extracted particles can
// propagate the source header conventions unchanged.
type Header struct {
	raw [HeaderSize]byte
	ext []byte
}

func (h *Header) getInt32(off int) int32 {
	return int32(binary.LittleEndian.Uint32(h.raw[off : off+4]))
}

func (h *Header) putInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(h.raw[off:off+4], uint32(v))
}

func (h *Header) getFloat32(off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(h.raw[off : off+4]))
}

func (h *Header) putFloat32(off int, v float32) {
	binary.LittleEndian.PutUint32(h.raw[off:off+4], math.Float32bits(v))
}

// Shape returns the volume extent as (nx, ny, nz). X varies fastest in
// the sample stream.
func (h *Header) Shape() [3]int {
	return [3]int{int(h.getInt32(offNX)), int(h.getInt32(offNY)), int(h.getInt32(offNZ))}
}

// Mode returns the voxel sample mode.
func (h *Header) Mode() int32 { return h.getInt32(offMode) }

// ExtendedSize returns the extended header length in bytes.
func (h *Header) ExtendedSize() int { return int(h.getInt32(offNSymBT)) }

// Extended returns the opaque extended header blob.
func (h *Header) Extended() []byte { return h.ext }

// Stats returns the recorded density min, max and mean.
func (h *Header) Stats() (min, max, mean float32) {
	return h.getFloat32(offDMin), h.getFloat32(offDMax), h.getFloat32(offDMean)
}

// clone copies the header, sharing nothing with the original.
func (h *Header) clone() *Header {
	out := &Header{raw: h.raw}
	out.ext = append([]byte(nil), h.ext...)
	return out
}

// setShape patches dimensions and the sampling grid. The cell lengths
// are rescaled so the voxel spacing of the source is preserved.
func (h *Header) setShape(shape [3]int) {
	for axis := 0; axis < 3; axis++ {
		oldGrid := h.getInt32(offMX + 4*axis)
		oldCell := h.getFloat32(offCellA + 4*axis)
		spacing := float32(1)
		if oldGrid > 0 && oldCell > 0 {
			spacing = oldCell / float32(oldGrid)
		}
		h.putInt32(offNX+4*axis, int32(shape[axis]))
		h.putInt32(offMX+4*axis, int32(shape[axis]))
		h.putFloat32(offCellA+4*axis, spacing*float32(shape[axis]))
	}
}

func (h *Header) setStats(min, max, mean, rms float32) {
	h.putFloat32(offDMin, min)
	h.putFloat32(offDMax, max)
	h.putFloat32(offDMean, mean)
	h.putFloat32(offRMS, rms)
}

func newHeader(shape [3]int, mode int32) *Header {
	h := &Header{}
	h.putInt32(offMode, mode)
	for axis := 0; axis < 3; axis++ {
		h.putInt32(offMX+4*axis, int32(shape[axis]))
		h.putFloat32(offCellA+4*axis, float32(shape[axis]))
	}
	h.setShape(shape)
	// Map id and little-endian machine stamp.
	copy(h.raw[offMap:offMap+4], "MAP ")
	h.raw[offMachSt] = 0x44
	h.raw[offMachSt+1] = 0x44
	// mapc/mapr/maps = 1,2,3
	h.putInt32(64, 1)
	h.putInt32(68, 2)
	h.putInt32(72, 3)
	return h
}

// File is an open MRC volume positioned for windowed reads.
type File struct {
	path string
	f    *os.File
	hdr  *Header
	vox  int
}

// Open reads and validates the header of an MRC file. The data section
// is not touched until a read is requested.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open volume: %w", err)
	}

	hdr := &Header{}
	if _, err := f.ReadAt(hdr.raw[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("read MRC header of %s: %w", path, err)
	}
	if extSize := hdr.ExtendedSize(); extSize > 0 {
		hdr.ext = make([]byte, extSize)
		if _, err := f.ReadAt(hdr.ext, HeaderSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("read MRC extended header of %s: %w", path, err)
		}
	}

	vox, err := voxelBytes(hdr.Mode())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	shape := hdr.Shape()
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		f.Close()
		return nil, fmt.Errorf("%s: invalid volume shape %v", path, shape)
	}

	return &File{path: path, f: f, hdr: hdr, vox: vox}, nil
}

// Close releases the underlying file.
func (v *File) Close() error { return v.f.Close() }

// Path returns the path the volume was opened from.
func (v *File) Path() string { return v.path }

// Header returns the parsed header.
func (v *File) Header() *Header { return v.hdr }

// Shape returns the volume extent as (nx, ny, nz).
func (v *File) Shape() [3]int { return v.hdr.Shape() }

func (v *File) dataOffset() int64 {
	return int64(HeaderSize + v.hdr.ExtendedSize())
}

// ReadBox reads a cubic sub-volume of the given size with its left
// (low-index) corner at left. The result is size^3 samples, X fastest.
// Only the addressed rows are read from disk.
func (v *File) ReadBox(left [3]int, size int) ([]float32, error) {
	shape := v.Shape()
	for axis := 0; axis < 3; axis++ {
		if left[axis] < 0 || left[axis]+size > shape[axis] {
			return nil, fmt.Errorf("box corner %v size %d out of volume %v on axis %d", left, size, shape, axis)
		}
	}

	out := make([]float32, size*size*size)
	row := make([]byte, size*v.vox)
	for dz := 0; dz < size; dz++ {
		for dy := 0; dy < size; dy++ {
			voxIdx := ((left[2]+dz)*shape[1]+(left[1]+dy))*shape[0] + left[0]
			off := v.dataOffset() + int64(voxIdx)*int64(v.vox)
			if _, err := v.f.ReadAt(row, off); err != nil {
				return nil, fmt.Errorf("read box row from %s: %w", v.path, err)
			}
			dst := out[(dz*size+dy)*size : (dz*size+dy+1)*size]
			decodeRow(row, dst, v.hdr.Mode())
		}
	}
	return out, nil
}

// ReadAll reads the full volume as float32 samples. Intended for label
// volumes and tests; tomogram access should go through ReadBox.
func (v *File) ReadAll() ([]float32, error) {
	shape := v.Shape()
	n := shape[0] * shape[1] * shape[2]
	raw := make([]byte, n*v.vox)
	if _, err := v.f.ReadAt(raw, v.dataOffset()); err != nil {
		return nil, fmt.Errorf("read volume data from %s: %w", v.path, err)
	}
	out := make([]float32, n)
	decodeRow(raw, out, v.hdr.Mode())
	return out, nil
}

// ReadLabels reads the full volume as integer label ids.
func (v *File) ReadLabels() ([]int32, error) {
	data, err := v.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(data))
	for i, s := range data {
		out[i] = int32(s)
	}
	return out, nil
}

func decodeRow(raw []byte, dst []float32, mode int32) {
	switch mode {
	case ModeInt8:
		for i := range dst {
			dst[i] = float32(int8(raw[i]))
		}
	case ModeInt16:
		for i := range dst {
			dst[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i : 2*i+2])))
		}
	case ModeUint16:
		for i := range dst {
			dst[i] = float32(binary.LittleEndian.Uint16(raw[2*i : 2*i+2]))
		}
	case ModeFloat32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i : 4*i+4]))
		}
	}
}

func encode(data []float32, mode int32) ([]byte, error) {
	vox, err := voxelBytes(mode)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, len(data)*vox)
	switch mode {
	case ModeInt8:
		for i, s := range data {
			raw[i] = byte(int8(math.RoundToEven(float64(s))))
		}
	case ModeInt16:
		for i, s := range data {
			binary.LittleEndian.PutUint16(raw[2*i:2*i+2], uint16(int16(math.RoundToEven(float64(s)))))
		}
	case ModeUint16:
		for i, s := range data {
			binary.LittleEndian.PutUint16(raw[2*i:2*i+2], uint16(math.RoundToEven(float64(s))))
		}
	case ModeFloat32:
		for i, s := range data {
			binary.LittleEndian.PutUint32(raw[4*i:4*i+4], math.Float32bits(s))
		}
	}
	return raw, nil
}

// Write writes a volume to path. When src is non-nil the new header is
// derived from it (voxel spacing, labels and the extended header blob
// carry over); otherwise a minimal header is built. Density statistics
// are recomputed from the data.
func Write(path string, data []float32, shape [3]int, mode int32, src *Header) error {
	if n := shape[0] * shape[1] * shape[2]; n != len(data) {
		return fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}

	var hdr *Header
	if src != nil {
		hdr = src.clone()
		hdr.putInt32(offMode, mode)
		hdr.setShape(shape)
	} else {
		hdr = newHeader(shape, mode)
	}
	hdr.putInt32(offNSymBT, int32(len(hdr.ext)))

	min, max, mean, rms := stats(data)
	hdr.setStats(min, max, mean, rms)

	raw, err := encode(data, mode)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create volume: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(hdr.raw[:]); err != nil {
		return fmt.Errorf("write MRC header: %w", err)
	}
	if len(hdr.ext) > 0 {
		if _, err := f.Write(hdr.ext); err != nil {
			return fmt.Errorf("write MRC extended header: %w", err)
		}
	}
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("write MRC data: %w", err)
	}
	return f.Close()
}

func stats(data []float32) (min, max, mean, rms float32) {
	if len(data) == 0 {
		return 0, 0, 0, 0
	}
	min, max = data[0], data[0]
	var sum float64
	for _, s := range data {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += float64(s)
	}
	m := sum / float64(len(data))
	var varSum float64
	for _, s := range data {
		d := float64(s) - m
		varSum += d * d
	}
	return min, max, float32(m), float32(math.Sqrt(varSum / float64(len(data))))
}
