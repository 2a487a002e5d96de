package database

import (
	"time"

	"media-index/internal/mediatypes"
)

// RecordState describes where a record's file currently lives in the
// action lifecycle.
type RecordState string

const (
	// StateActive means the file is in its normal library location.
	StateActive RecordState = "active"
	// StateEdited means the file has been moved to an _Edit subfolder.
	StateEdited RecordState = "edited"
	// StateJunked means the file has been moved to a _Junk subfolder.
	StateJunked RecordState = "junked"
)

// MediaRecord is one indexed media file.
type MediaRecord struct {
	Path        string              `json:"path"`
	FileType    mediatypes.FileType `json:"file_type"`
	Size        int64               `json:"size"`
	ModTime     time.Time           `json:"mod_time"`
	Fingerprint string              `json:"fingerprint"`

	// Extracted metadata. Optional fields are pointers so absence
	// survives the database round trip.
	DateTaken   *time.Time `json:"date_taken,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`

	LocationName    string `json:"location_name,omitempty"`
	LocationCity    string `json:"location_city,omitempty"`
	LocationCountry string `json:"location_country,omitempty"`

	Favorite bool        `json:"favorite"`
	Rating   *int        `json:"rating,omitempty"`
	State    RecordState `json:"state"`

	// MissingSince is set when a scan first fails to find the file.
	// The record is deleted when a second consecutive scan confirms.
	MissingSince *time.Time `json:"missing_since,omitempty"`
	LastIndexed  time.Time  `json:"last_indexed"`
}

// MoveOp is the kind of a move-history ledger entry.
type MoveOp string

const (
	// OpToEdit records a move into an _Edit subfolder.
	OpToEdit MoveOp = "to_edit"
	// OpToJunk records a move into a _Junk subfolder.
	OpToJunk MoveOp = "to_junk"
	// OpRestore records a move back from _Edit to the original path.
	OpRestore MoveOp = "restore"
)

// MoveHistoryEntry is one row of the append-only move ledger.
type MoveHistoryEntry struct {
	ID           int64     `json:"id"`
	Op           MoveOp    `json:"op"`
	OriginalPath string    `json:"original_path"`
	NewPath      string    `json:"new_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Location is a resolved reverse-geocode result.
type Location struct {
	Name    string `json:"name"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// FileStamp is the minimal per-path state a scan needs to diff the
// filesystem against the index.
type FileStamp struct {
	Fingerprint string
	Missing     bool
}

// RandomQuery selects a uniform random sample of active records.
// Zero values mean "no filter".
type RandomQuery struct {
	Count         int
	FolderPrefix  string
	FileType      mediatypes.FileType
	DateFrom      *time.Time
	DateTo        *time.Time
	FavoritesOnly bool
	Exclude       []string
}

// RandomResult carries a random sample plus the exhaustion signal.
type RandomResult struct {
	Items []MediaRecord `json:"items"`
	// Exhausted is true when the post-exclusion pool held fewer
	// records than requested.
	Exhausted bool `json:"exhausted"`
}

// Stats summarizes the index for the status endpoint.
type Stats struct {
	TotalFiles     int64 `json:"total_files"`
	Images         int64 `json:"images"`
	Videos         int64 `json:"videos"`
	Favorites      int64 `json:"favorites"`
	WithLocation   int64 `json:"with_location"`
	GeocodeEntries int64 `json:"geocode_entries"`
	Edited         int64 `json:"edited"`
	Junked         int64 `json:"junked"`
}

// ScanRun is one row of the scan_history audit table.
type ScanRun struct {
	ID         string     `json:"id"`
	Folder     string     `json:"folder"`
	ScanType   string     `json:"scan_type"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Added      int        `json:"added"`
	Updated    int        `json:"updated"`
	Removed    int        `json:"removed"`
	Errors     int        `json:"errors"`
	Status     string     `json:"status"`
}
