package exif

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"
)

// MP4 stores times as seconds since 1904-01-01 UTC.
const mp4Epoch = 2082844800

// Apple devices write the capture location into moov/udta as an
// ISO 6709 string, e.g. "+37.5090+127.1054+045.000/".
var iso6709Re = regexp.MustCompile(`^([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)`)

// extractMP4 pulls creation time and GPS coordinates out of an
// MP4-family container by walking its box structure.
func extractMP4(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	meta := &Metadata{}
	if err := walkBoxes(f, 0, info.Size(), meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return meta, nil
}

// walkBoxes scans the box sequence in [offset, end) and descends into
// the containers that can hold capture metadata.
func walkBoxes(f *os.File, offset, end int64, meta *Metadata) error {
	var header [8]byte
	for offset+8 <= end {
		if _, err := f.ReadAt(header[:], offset); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		size := int64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		headerLen := int64(8)

		switch size {
		case 0:
			// Box extends to end of file.
			size = end - offset
		case 1:
			var large [8]byte
			if _, err := f.ReadAt(large[:], offset+8); err != nil {
				return err
			}
			size = int64(binary.BigEndian.Uint64(large[:]))
			headerLen = 16
		}
		if size < headerLen || offset+size > end {
			// Corrupt length; stop rather than loop forever.
			return nil
		}

		switch boxType {
		case "moov", "udta":
			if err := walkBoxes(f, offset+headerLen, offset+size, meta); err != nil {
				return err
			}
		case "mvhd":
			if err := parseMvhd(f, offset+headerLen, size-headerLen, meta); err != nil {
				return err
			}
		case "\xa9xyz":
			if err := parseLocationBox(f, offset+headerLen, size-headerLen, meta); err != nil {
				return err
			}
		}

		offset += size
	}
	return nil
}

// parseMvhd reads the movie header creation time.
func parseMvhd(f *os.File, offset, size int64, meta *Metadata) error {
	if size < 8 {
		return nil
	}
	buf := make([]byte, 12)
	if _, err := f.ReadAt(buf[:1], offset); err != nil {
		return err
	}

	var created uint64
	if buf[0] == 1 {
		if size < 12 {
			return nil
		}
		if _, err := f.ReadAt(buf[:12], offset); err != nil {
			return err
		}
		created = binary.BigEndian.Uint64(buf[4:12])
	} else {
		if _, err := f.ReadAt(buf[:8], offset); err != nil {
			return err
		}
		created = uint64(binary.BigEndian.Uint32(buf[4:8]))
	}

	if created > mp4Epoch {
		t := time.Unix(int64(created)-mp4Epoch, 0).UTC()
		meta.DateTaken = &t
	}
	return nil
}

// parseLocationBox reads the ISO 6709 coordinate string from a ©xyz
// box. Payload layout: 2-byte string length, 2-byte language code,
// then the string itself.
func parseLocationBox(f *os.File, offset, size int64, meta *Metadata) error {
	if size < 4 {
		return nil
	}
	var prefix [4]byte
	if _, err := f.ReadAt(prefix[:], offset); err != nil {
		return err
	}
	strLen := int64(binary.BigEndian.Uint16(prefix[:2]))
	if strLen == 0 || strLen > size-4 {
		return nil
	}

	buf := make([]byte, strLen)
	if _, err := f.ReadAt(buf, offset+4); err != nil {
		return err
	}

	lat, lon, ok := parseISO6709(string(buf))
	if ok && validCoordinates(lat, lon) {
		meta.Latitude = &lat
		meta.Longitude = &lon
	}
	return nil
}

// parseISO6709 parses the leading latitude/longitude pair of an
// ISO 6709 location string.
func parseISO6709(s string) (lat, lon float64, ok bool) {
	m := iso6709Re.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
