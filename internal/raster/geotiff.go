package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// TIFF tags
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// TIFF field types
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

// Compression schemes
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatFloat      = 3
	planarChunky           = 1
	planarSeparate         = 2
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// GeoKeys
const (
	geoKeyModelType     = 1024
	geoKeyGeographic    = 2048
	geoKeyProjected     = 3072
	geoKeyUserDefined   = 32767
	modelTypeGeographic = 2
)

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8,
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   []byte
}

// Dataset is an opened single-image GeoTIFF. Samples are fetched lazily,
// one block at a time, so remote cloud optimized files only transfer the
// blocks a window touches.
type Dataset struct {
	r     io.ReaderAt
	order binary.ByteOrder

	Width           int
	Height          int
	SamplesPerPixel int
	BitsPerSample   int
	SampleFormat    int
	Compression     int
	Predictor       int
	PlanarConfig    int

	blockWidth  int
	blockHeight int
	tiled       bool
	offsets     []uint64
	byteCounts  []uint64

	Transform Affine
	EPSG      int
	NoData    *float64
}

// Open parses the first image directory of a TIFF.
func Open(r io.ReaderAt) (*Dataset, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("failed to read tiff header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a tiff file")
	}
	if magic := order.Uint16(header[2:4]); magic != 42 {
		if magic == 43 {
			return nil, fmt.Errorf("bigtiff is not supported")
		}
		return nil, fmt.Errorf("bad tiff magic %d", magic)
	}

	ifdOffset := int64(order.Uint32(header[4:8]))
	entries, err := readIFD(r, order, ifdOffset)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{r: r, order: order}
	if err := ds.parse(entries); err != nil {
		return nil, err
	}
	return ds, nil
}

func readIFD(r io.ReaderAt, order binary.ByteOrder, offset int64) (map[uint16]ifdEntry, error) {
	countBuf := make([]byte, 2)
	if _, err := r.ReadAt(countBuf, offset); err != nil {
		return nil, fmt.Errorf("failed to read ifd: %w", err)
	}
	n := int(order.Uint16(countBuf))

	buf := make([]byte, 12*n)
	if _, err := r.ReadAt(buf, offset+2); err != nil {
		return nil, fmt.Errorf("failed to read ifd entries: %w", err)
	}

	entries := make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		e := buf[i*12 : (i+1)*12]
		entry := ifdEntry{
			tag:   order.Uint16(e[0:2]),
			typ:   order.Uint16(e[2:4]),
			count: order.Uint32(e[4:8]),
		}
		size, ok := typeSizes[entry.typ]
		if !ok {
			continue
		}
		total := size * int(entry.count)
		if total <= 4 {
			entry.raw = append([]byte(nil), e[8:8+total]...)
		} else {
			entry.raw = make([]byte, total)
			if _, err := r.ReadAt(entry.raw, int64(order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("failed to read tag %d: %w", entry.tag, err)
			}
		}
		entries[entry.tag] = entry
	}
	return entries, nil
}

func (ds *Dataset) uints(e ifdEntry) []uint64 {
	size := typeSizes[e.typ]
	out := make([]uint64, e.count)
	for i := range out {
		b := e.raw[i*size:]
		switch e.typ {
		case dtByte, dtUndefined, dtSByte:
			out[i] = uint64(b[0])
		case dtShort, dtSShort:
			out[i] = uint64(ds.order.Uint16(b))
		case dtLong, dtSLong:
			out[i] = uint64(ds.order.Uint32(b))
		}
	}
	return out
}

func (ds *Dataset) doubles(e ifdEntry) []float64 {
	size := typeSizes[e.typ]
	out := make([]float64, e.count)
	for i := range out {
		b := e.raw[i*size:]
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(ds.order.Uint64(b))
		case dtFloat:
			out[i] = float64(math.Float32frombits(ds.order.Uint32(b)))
		default:
			out[i] = float64(ds.uints(ifdEntry{typ: e.typ, count: 1, raw: b[:size]})[0])
		}
	}
	return out
}

func (ds *Dataset) first(entries map[uint16]ifdEntry, tag uint16, def int) int {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return def
	}
	return int(ds.uints(e)[0])
}

func (ds *Dataset) parse(entries map[uint16]ifdEntry) error {
	ds.Width = ds.first(entries, tagImageWidth, 0)
	ds.Height = ds.first(entries, tagImageLength, 0)
	if ds.Width <= 0 || ds.Height <= 0 {
		return fmt.Errorf("tiff has no image dimensions")
	}
	ds.SamplesPerPixel = ds.first(entries, tagSamplesPerPixel, 1)
	ds.BitsPerSample = ds.first(entries, tagBitsPerSample, 8)
	ds.SampleFormat = ds.first(entries, tagSampleFormat, sampleFormatUint)
	ds.Compression = ds.first(entries, tagCompression, compressionNone)
	ds.Predictor = ds.first(entries, tagPredictor, predictorNone)
	ds.PlanarConfig = ds.first(entries, tagPlanarConfig, planarChunky)

	switch ds.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("unsupported tiff compression %d", ds.Compression)
	}
	switch ds.BitsPerSample {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("unsupported bits per sample %d", ds.BitsPerSample)
	}

	if _, ok := entries[tagTileWidth]; ok {
		ds.tiled = true
		ds.blockWidth = ds.first(entries, tagTileWidth, 0)
		ds.blockHeight = ds.first(entries, tagTileLength, 0)
		ds.offsets = ds.uints(entries[tagTileOffsets])
		ds.byteCounts = ds.uints(entries[tagTileByteCounts])
	} else {
		ds.blockWidth = ds.Width
		ds.blockHeight = ds.first(entries, tagRowsPerStrip, ds.Height)
		if ds.blockHeight <= 0 || ds.blockHeight > ds.Height {
			ds.blockHeight = ds.Height
		}
		ds.offsets = ds.uints(entries[tagStripOffsets])
		ds.byteCounts = ds.uints(entries[tagStripByteCounts])
	}
	if ds.blockWidth <= 0 || ds.blockHeight <= 0 || len(ds.offsets) == 0 || len(ds.offsets) != len(ds.byteCounts) {
		return fmt.Errorf("tiff block layout is invalid")
	}

	ds.Transform = Identity
	if e, ok := entries[tagModelTransform]; ok && e.count >= 16 {
		m := ds.doubles(e)
		ds.Transform = Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else if scale, ok := entries[tagModelPixelScale]; ok {
		tie, ok := entries[tagModelTiepoint]
		if ok && tie.count >= 6 && scale.count >= 2 {
			s := ds.doubles(scale)
			tp := ds.doubles(tie)
			ds.Transform = Affine{
				A: s[0], C: tp[3] - tp[0]*s[0],
				E: -s[1], F: tp[4] + tp[1]*s[1],
			}
		}
	}

	if e, ok := entries[tagGeoKeyDirectory]; ok {
		ds.EPSG = ds.parseGeoKeys(ds.uints(e))
	}

	if e, ok := entries[tagGDALNoData]; ok {
		text := strings.Trim(string(e.raw), "\x00 ")
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			ds.NoData = &v
		}
	}
	return nil
}

func (ds *Dataset) parseGeoKeys(keys []uint64) int {
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	values := map[uint64]uint64{}
	for i := 0; i < n && 4+i*4+3 < len(keys); i++ {
		k := keys[4+i*4 : 4+i*4+4]
		// only inline SHORT values (location 0) carry EPSG codes
		if k[1] == 0 {
			values[k[0]] = k[3]
		}
	}
	if v, ok := values[geoKeyProjected]; ok && v != geoKeyUserDefined {
		return int(v)
	}
	if v, ok := values[geoKeyGeographic]; ok && v != geoKeyUserDefined {
		return int(v)
	}
	if values[geoKeyModelType] == modelTypeGeographic {
		return 4326
	}
	return 0
}

// Count returns the number of bands.
func (ds *Dataset) Count() int {
	return ds.SamplesPerPixel
}

// CRS returns the dataset CRS as "EPSG:<code>".
func (ds *Dataset) CRS() string {
	return fmt.Sprintf("EPSG:%d", ds.EPSG)
}

// ReadBand reads the full extent of a band (1-based).
func (ds *Dataset) ReadBand(band int) (*Grid, error) {
	return ds.ReadWindow(band, Window{Width: ds.Width, Height: ds.Height}, math.NaN())
}

// ReadWindow reads a band (1-based) over w. Pixels outside the image are set to fill.
func (ds *Dataset) ReadWindow(band int, w Window, fill float64) (*Grid, error) {
	if band < 1 || band > ds.SamplesPerPixel {
		return nil, fmt.Errorf("band %d out of range 1..%d", band, ds.SamplesPerPixel)
	}
	if w.Empty() {
		return nil, fmt.Errorf("empty window")
	}
	out := NewGridFilled(w.Width, w.Height, fill)

	col0 := max(w.ColOff, 0)
	row0 := max(w.RowOff, 0)
	col1 := min(w.ColOff+w.Width, ds.Width)
	row1 := min(w.RowOff+w.Height, ds.Height)
	if col0 >= col1 || row0 >= row1 {
		return out, nil
	}

	across := (ds.Width + ds.blockWidth - 1) / ds.blockWidth
	for by := row0 / ds.blockHeight; by*ds.blockHeight < row1; by++ {
		for bx := col0 / ds.blockWidth; bx*ds.blockWidth < col1; bx++ {
			block, rows, err := ds.decodeBlock(band, by*across+bx)
			if err != nil {
				return nil, err
			}
			spp := ds.samplesInBlock()
			sample := 0
			if ds.PlanarConfig == planarChunky {
				sample = band - 1
			}
			for y := max(row0, by*ds.blockHeight); y < min(row1, by*ds.blockHeight+rows); y++ {
				by0 := y - by*ds.blockHeight
				for x := max(col0, bx*ds.blockWidth); x < min(col1, (bx+1)*ds.blockWidth); x++ {
					bx0 := x - bx*ds.blockWidth
					out.Set(x-w.ColOff, y-w.RowOff, block[(by0*ds.blockWidth+bx0)*spp+sample])
				}
			}
		}
	}
	return out, nil
}

// MaskNoData replaces the dataset nodata value with NaN.
func (ds *Dataset) MaskNoData(g *Grid) {
	if ds.NoData != nil && !math.IsNaN(*ds.NoData) {
		g.ReplaceValue(*ds.NoData, math.NaN())
	}
}

func (ds *Dataset) samplesInBlock() int {
	if ds.PlanarConfig == planarSeparate {
		return 1
	}
	return ds.SamplesPerPixel
}

// decodeBlock returns the samples of one block as float64 together with the
// number of rows it holds (the last strip may be short).
func (ds *Dataset) decodeBlock(band, index int) ([]float64, int, error) {
	blocksPerBand := len(ds.offsets)
	if ds.PlanarConfig == planarSeparate {
		blocksPerBand /= ds.SamplesPerPixel
		index += (band - 1) * blocksPerBand
	}
	if index >= len(ds.offsets) {
		return nil, 0, fmt.Errorf("block %d out of range", index)
	}

	rows := ds.blockHeight
	if !ds.tiled {
		down := index % blocksPerBand
		if remaining := ds.Height - down*ds.blockHeight; remaining < rows {
			rows = remaining
		}
	}
	spp := ds.samplesInBlock()
	bytesPer := ds.BitsPerSample / 8
	want := ds.blockWidth * rows * spp * bytesPer

	raw := make([]byte, ds.byteCounts[index])
	if len(raw) > 0 {
		if _, err := ds.r.ReadAt(raw, int64(ds.offsets[index])); err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("failed to read block %d: %w", index, err)
		}
	}

	data, err := ds.decompress(raw, want)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < want {
		padded := make([]byte, want)
		copy(padded, data)
		data = padded
	}

	order := ds.order
	switch ds.Predictor {
	case predictorHorizontal:
		undoHorizontal(data, order, ds.blockWidth, rows, spp, bytesPer)
	case predictorFloatingPoint:
		data = undoFloatingPoint(data, ds.blockWidth, rows, spp, bytesPer)
		order = binary.BigEndian
	}

	return ds.convert(data[:want], order, bytesPer), rows, nil
}

func (ds *Dataset) decompress(raw []byte, want int) ([]byte, error) {
	switch ds.Compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return readUpTo(rc, want)
	default:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open deflate block: %w", err)
		}
		defer zr.Close()
		return readUpTo(zr, want)
	}
}

func readUpTo(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to decompress block: %w", err)
	}
	return buf[:n], nil
}

func (ds *Dataset) convert(data []byte, order binary.ByteOrder, bytesPer int) []float64 {
	n := len(data) / bytesPer
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*bytesPer:]
		switch ds.SampleFormat {
		case sampleFormatFloat:
			if bytesPer == 4 {
				out[i] = float64(math.Float32frombits(order.Uint32(b)))
			} else {
				out[i] = math.Float64frombits(order.Uint64(b))
			}
		case sampleFormatInt:
			switch bytesPer {
			case 1:
				out[i] = float64(int8(b[0]))
			case 2:
				out[i] = float64(int16(order.Uint16(b)))
			case 4:
				out[i] = float64(int32(order.Uint32(b)))
			default:
				out[i] = float64(int64(order.Uint64(b)))
			}
		default:
			switch bytesPer {
			case 1:
				out[i] = float64(b[0])
			case 2:
				out[i] = float64(order.Uint16(b))
			case 4:
				out[i] = float64(order.Uint32(b))
			default:
				out[i] = float64(order.Uint64(b))
			}
		}
	}
	return out
}

// undoHorizontal reverses predictor 2 in place with integer wraparound.
func undoHorizontal(data []byte, order binary.ByteOrder, width, rows, spp, bytesPer int) {
	rowLen := width * spp * bytesPer
	for r := 0; r < rows; r++ {
		row := data[r*rowLen : (r+1)*rowLen]
		for i := spp; i < width*spp; i++ {
			cur := row[i*bytesPer:]
			prev := row[(i-spp)*bytesPer:]
			switch bytesPer {
			case 1:
				cur[0] += prev[0]
			case 2:
				order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
			case 4:
				order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
			case 8:
				order.PutUint64(cur, order.Uint64(cur)+order.Uint64(prev))
			}
		}
	}
}

// undoFloatingPoint reverses predictor 3: byte-wise differencing over
// byte planes stored most significant first. The result is big-endian.
func undoFloatingPoint(data []byte, width, rows, spp, bytesPer int) []byte {
	rowLen := width * spp * bytesPer
	wc := width * spp
	out := make([]byte, len(data))
	for r := 0; r < rows; r++ {
		row := data[r*rowLen : (r+1)*rowLen]
		for i := spp; i < rowLen; i++ {
			row[i] += row[i-spp]
		}
		dst := out[r*rowLen : (r+1)*rowLen]
		for k := 0; k < wc; k++ {
			for b := 0; b < bytesPer; b++ {
				dst[k*bytesPer+b] = row[b*wc+k]
			}
		}
	}
	return out
}
