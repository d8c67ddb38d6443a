package workspace

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Shrink targets per detail level. Everything re-encodes to JPEG; the
// original file on disk is untouched.
var detailTargets = map[string]struct {
	maxDim  int
	quality int
}{
	"low":  {512, 75},
	"auto": {1024, 85},
	"high": {2048, 95},
}

// EncodeImageDataURL loads an image file, shrinks it per the detail level
// and returns a data URL ready for a provider image part.
func EncodeImageDataURL(path, detail string) (string, error) {
	target, ok := detailTargets[detail]
	if !ok {
		target = detailTargets["auto"]
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("workspace: open image %s: %w", path, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > target.maxDim || bounds.Dy() > target.maxDim {
		img = imaging.Fit(img, target.maxDim, target.maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: target.quality}); err != nil {
		return "", fmt.Errorf("workspace: encode image %s: %w", path, err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// IsImageFile reports whether a filename looks like a viewable image.
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tif", ".tiff":
		return true
	}
	return false
}

// ResolveImagePath locates an image referenced by a tool or the model: an
// absolute path is used as-is, otherwise the name resolves inside dir.
func ResolveImagePath(dir, name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, filepath.Base(name))
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", fmt.Errorf("workspace: image not found: %s", name)
	}
	return path, nil
}
