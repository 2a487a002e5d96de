package exif

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-index/internal/mediatypes"
)

func TestParseISO6709(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLat float64
		wantLon float64
		wantOK  bool
	}{
		{
			name:    "apple style with altitude",
			input:   "+37.5090+127.1054+045.000/",
			wantLat: 37.5090,
			wantLon: 127.1054,
			wantOK:  true,
		},
		{
			name:    "negative coordinates",
			input:   "-33.8688+151.2093/",
			wantLat: -33.8688,
			wantLon: 151.2093,
			wantOK:  true,
		},
		{
			name:    "integer degrees",
			input:   "+48+002/",
			wantLat: 48,
			wantLon: 2,
			wantOK:  true,
		},
		{
			name:   "missing longitude",
			input:  "+37.5090",
			wantOK: false,
		},
		{
			name:   "garbage",
			input:  "not a location",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, ok := parseISO6709(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if lat != tt.wantLat || lon != tt.wantLon {
				t.Errorf("got (%v, %v), want (%v, %v)", lat, lon, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestValidCoordinates(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{48.8606, 2.3376, true},
		{-90, 180, true},
		{0, 0, false},
		{91, 0, false},
		{0, -181, false},
		{0, 10, true},
	}
	for _, tt := range tests {
		if got := validCoordinates(tt.lat, tt.lon); got != tt.want {
			t.Errorf("validCoordinates(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestExtractUnparseableContainer(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "clip.avi")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	meta, err := e.Extract(path, mediatypes.FileTypeVideo)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.DateTaken != nil || meta.Latitude != nil {
		t.Errorf("metadata from an unparseable container: %+v", meta)
	}
}

func TestExtractImageWithoutExif(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "plain.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	meta, err := e.Extract(path, mediatypes.FileTypeImage)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.DateTaken != nil || meta.CameraMake != "" || meta.Latitude != nil {
		t.Errorf("metadata from an EXIF-less image: %+v", meta)
	}
}

// ratedTIFF builds a minimal little-endian TIFF whose only IFD entry
// is the Windows XP Rating tag.
func ratedTIFF(rating uint16) []byte {
	buf := make([]byte, 26)
	copy(buf[0:4], []byte{'I', 'I', 0x2A, 0x00})
	binary.LittleEndian.PutUint32(buf[4:8], 8) // IFD0 offset
	binary.LittleEndian.PutUint16(buf[8:10], 1)
	binary.LittleEndian.PutUint16(buf[10:12], ratingTagID)
	binary.LittleEndian.PutUint16(buf[12:14], 3) // SHORT
	binary.LittleEndian.PutUint32(buf[14:18], 1)
	binary.LittleEndian.PutUint16(buf[18:20], rating)
	// Remaining value bytes and the next-IFD offset stay zero.
	return buf
}

func TestExtractImageRating(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "rated.jpg")
	if err := os.WriteFile(path, ratedTIFF(5), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	meta, err := e.Extract(path, mediatypes.FileTypeImage)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.Rating == nil || *meta.Rating != 5 {
		t.Errorf("Rating = %v, want 5", meta.Rating)
	}
}

func TestExtractImageRatingOutOfRange(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "overrated.jpg")
	if err := os.WriteFile(path, ratedTIFF(99), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	meta, err := e.Extract(path, mediatypes.FileTypeImage)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.Rating != nil {
		t.Errorf("Rating = %v, want nil for an out-of-range value", meta.Rating)
	}
}

// box builds one MP4 box from its type and payload.
func box(boxType string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(8+len(payload)))
	copy(out[4:8], boxType)
	copy(out[8:], payload)
	return out
}

func TestExtractMP4(t *testing.T) {
	captured := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	// mvhd version 0: version/flags then 32-bit creation and
	// modification times counted from the 1904 epoch.
	mvhd := make([]byte, 20)
	binary.BigEndian.PutUint32(mvhd[4:8], uint32(captured.Unix()+mp4Epoch))

	// udta/©xyz: 2-byte string length, 2-byte language, ISO 6709 text.
	coord := "+37.5090+127.1054+045.000/"
	xyz := make([]byte, 4+len(coord))
	binary.BigEndian.PutUint16(xyz[:2], uint16(len(coord)))
	binary.BigEndian.PutUint16(xyz[2:4], 0x15C7)
	copy(xyz[4:], coord)

	moov := box("moov", append(box("mvhd", mvhd), box("udta", box("\xa9xyz", xyz))...))
	data := append(box("ftyp", []byte("isom0000")), moov...)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	meta, err := New().Extract(path, mediatypes.FileTypeVideo)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.DateTaken == nil || !meta.DateTaken.Equal(captured) {
		t.Errorf("DateTaken = %v, want %v", meta.DateTaken, captured)
	}
	if meta.Latitude == nil || *meta.Latitude != 37.5090 {
		t.Errorf("Latitude = %v, want 37.509", meta.Latitude)
	}
	if meta.Longitude == nil || *meta.Longitude != 127.1054 {
		t.Errorf("Longitude = %v, want 127.1054", meta.Longitude)
	}
}

func TestExtractMP4TruncatedIsHarmless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stub.mp4")
	if err := os.WriteFile(path, []byte{0x00, 0x00}, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	meta, err := New().Extract(path, mediatypes.FileTypeVideo)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if meta.DateTaken != nil {
		t.Errorf("metadata from a truncated file: %+v", meta)
	}
}
