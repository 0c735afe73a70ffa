package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// DefaultNoData is written for non-finite samples of generated layers.
const DefaultNoData = -9999.0

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes bands as a deflate-compressed float32 GeoTIFF, one strip per
// band. Non-finite samples are stored as nodata.
func Encode(w io.Writer, bands []*Grid, t Affine, epsg int, nodata float64) error {
	if len(bands) == 0 {
		return fmt.Errorf("no bands to encode")
	}
	width, height := bands[0].Width, bands[0].Height
	for _, b := range bands[1:] {
		if !b.SameShape(bands[0]) {
			return fmt.Errorf("band shapes differ")
		}
	}

	le := binary.LittleEndian
	var strips [][]byte
	for _, b := range bands {
		raw := make([]byte, 4*len(b.Data))
		for i, v := range b.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = nodata
			}
			le.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
		}
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return fmt.Errorf("failed to compress band: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress band: %w", err)
		}
		strips = append(strips, buf.Bytes())
	}

	n := len(bands)
	offset := uint32(8)
	offsets := make([]uint32, n)
	counts := make([]uint32, n)
	for i, s := range strips {
		offsets[i] = offset
		counts[i] = uint32(len(s))
		offset += uint32(len(s))
	}
	if offset%2 == 1 {
		offset++
	}
	ifdOffset := offset

	entries := []outEntry{
		shortEntry(tagImageWidth, uint16(width)),
		longEntry(tagImageLength, uint32(height)),
		shortEntry(tagBitsPerSample, repeatShort(32, n)...),
		shortEntry(tagCompression, compressionDeflate),
		shortEntry(tagPhotometric, 1),
		longEntry(tagStripOffsets, offsets...),
		shortEntry(tagSamplesPerPixel, uint16(n)),
		longEntry(tagRowsPerStrip, uint32(height)),
		longEntry(tagStripByteCounts, counts...),
		shortEntry(tagPlanarConfig, planarSeparate),
		shortEntry(tagSampleFormat, repeatShort(sampleFormatFloat, n)...),
		asciiEntry(tagGDALNoData, strconv.FormatFloat(nodata, 'g', -1, 64)),
	}
	if width > math.MaxUint16 {
		entries[0] = longEntry(tagImageWidth, uint32(width))
	}
	if t.B == 0 && t.D == 0 {
		entries = append(entries,
			doubleEntry(tagModelPixelScale, t.A, -t.E, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, t.C, t.F, 0),
		)
	} else {
		entries = append(entries, doubleEntry(tagModelTransform,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}
	if epsg > 0 {
		entries = append(entries, shortEntry(tagGeoKeyDirectory, geoKeys(epsg)...))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	var out bytes.Buffer
	out.WriteString("II")
	binary.Write(&out, le, uint16(42))
	binary.Write(&out, le, ifdOffset)
	for _, s := range strips {
		out.Write(s)
	}
	for uint32(out.Len()) < ifdOffset {
		out.WriteByte(0)
	}

	overflow := ifdOffset + 2 + 12*uint32(len(entries)) + 4
	var extra bytes.Buffer
	binary.Write(&out, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&out, le, e.tag)
		binary.Write(&out, le, e.typ)
		binary.Write(&out, le, e.count)
		if len(e.data) <= 4 {
			field := make([]byte, 4)
			copy(field, e.data)
			out.Write(field)
			continue
		}
		binary.Write(&out, le, overflow+uint32(extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	binary.Write(&out, le, uint32(0))
	out.Write(extra.Bytes())

	_, err := w.Write(out.Bytes())
	return err
}

// EncodeBytes is Encode into memory.
func EncodeBytes(bands []*Grid, t Affine, epsg int, nodata float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, bands, t, epsg, nodata); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func geoKeys(epsg int) []uint16 {
	modelType, key := uint16(1), uint16(geoKeyProjected)
	if epsg == 4326 || (epsg >= 4000 && epsg < 5000) {
		modelType, key = modelTypeGeographic, geoKeyGeographic
	}
	return []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, modelType,
		1025, 0, 1, 1,
		key, 0, 1, uint16(epsg),
	}
}

func repeatShort(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func shortEntry(tag uint16, values ...uint16) outEntry {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}
	return outEntry{tag: tag, typ: dtShort, count: uint32(len(values)), data: data}
}

func longEntry(tag uint16, values ...uint32) outEntry {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	return outEntry{tag: tag, typ: dtLong, count: uint32(len(values)), data: data}
}

func doubleEntry(tag uint16, values ...float64) outEntry {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return outEntry{tag: tag, typ: dtDouble, count: uint32(len(values)), data: data}
}

func asciiEntry(tag uint16, s string) outEntry {
	data := append([]byte(s), 0)
	return outEntry{tag: tag, typ: dtASCII, count: uint32(len(data)), data: data}
}
