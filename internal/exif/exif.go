// Package exif extracts capture metadata from media files: EXIF tags
// from images and the equivalent atoms from MP4-family videos.
package exif

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"

	"media-index/internal/logging"
	"media-index/internal/mediatypes"
)

// Metadata is what extraction yields for one file. Fields that the
// file does not carry stay at their zero value (pointers stay nil).
type Metadata struct {
	DateTaken   *time.Time
	CameraMake  string
	CameraModel string
	Orientation int
	Rating      *int
	Latitude    *float64
	Longitude   *float64
}

// Extractor reads metadata from files on disk.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract reads capture metadata for path. A file without usable
// metadata yields an empty Metadata, not an error; errors mean the
// file could not be read or parsed at all.
func (e *Extractor) Extract(path string, fileType mediatypes.FileType) (*Metadata, error) {
	switch fileType {
	case mediatypes.FileTypeImage:
		return extractImage(path)
	case mediatypes.FileTypeVideo:
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".mp4", ".m4v", ".mov", ".3gp":
			return extractMP4(path)
		}
		// No parser for this container; index on filesystem data alone.
		return &Metadata{}, nil
	default:
		return &Metadata{}, nil
	}
}

func extractImage(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	x, err := goexif.Decode(f)
	if err != nil {
		// Plenty of images simply carry no EXIF segment.
		logging.Debug("no EXIF data in %s: %v", path, err)
		return &Metadata{}, nil
	}

	meta := &Metadata{}

	if t, err := x.DateTime(); err == nil {
		meta.DateTaken = &t
	}
	if tag, err := x.Get(goexif.Make); err == nil {
		if s, err := tag.StringVal(); err == nil {
			meta.CameraMake = strings.TrimSpace(s)
		}
	}
	if tag, err := x.Get(goexif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			meta.CameraModel = strings.TrimSpace(s)
		}
	}
	if tag, err := x.Get(goexif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Orientation = v
		}
	}
	if v, ok := ratingTag(x); ok {
		meta.Rating = &v
	}
	if lat, lon, err := x.LatLong(); err == nil {
		if validCoordinates(lat, lon) {
			meta.Latitude = &lat
			meta.Longitude = &lon
		}
	}

	return meta, nil
}

// Windows XP Rating tag. Not in goexif's named field set, so it is
// looked up by id in the raw tag directories.
const ratingTagID = 0x4746

// ratingTag finds an embedded 0-5 star rating written by photo
// managers, so a library rated before indexing keeps its ratings.
func ratingTag(x *goexif.Exif) (int, bool) {
	if x.Tiff == nil {
		return 0, false
	}
	for _, dir := range x.Tiff.Dirs {
		for _, tag := range dir.Tags {
			if tag.Id != ratingTagID {
				continue
			}
			if v, err := tag.Int(0); err == nil && v >= 0 && v <= 5 {
				return v, true
			}
		}
	}
	return 0, false
}

// validCoordinates rejects out-of-range values and the (0, 0) point
// that broken firmware writes for "no fix".
func validCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
