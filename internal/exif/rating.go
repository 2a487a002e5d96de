package exif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"media-index/internal/logging"
)

// ErrNoTool is returned when no metadata-writing tool is installed.
var ErrNoTool = errors.New("exiftool not available")

const embedTimeout = 30 * time.Second

// EmbedRating writes an XMP rating (0-5) into the file itself so the
// mark survives outside the index. The index row is authoritative;
// callers treat a failure here as advisory.
func EmbedRating(ctx context.Context, path string, rating int) error {
	tool, err := exec.LookPath("exiftool")
	if err != nil {
		return ErrNoTool
	}

	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool,
		"-overwrite_original",
		fmt.Sprintf("-XMP:Rating=%d", rating),
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exiftool failed on %s: %w (%s)", path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	logging.Debug("embedded rating %d in %s", rating, path)
	return nil
}
