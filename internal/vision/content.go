package vision

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Part is one element of a multimodal user message: an image URL
// (remote or data URL) or the question text.
type Part struct {
	ImageURL string
	Text     string
}

// imageFormats maps file extensions to image MIME subtypes.
var imageFormats = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".gif":  "gif",
	".webp": "webp",
}

// isURL reports whether ref has both a scheme and a host.
func isURL(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// imageFormat returns the MIME subtype for path, defaulting to jpeg.
func imageFormat(path string) string {
	if f, ok := imageFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return "jpeg"
}

// dataURL reads a local image into a base64 data URL.
func dataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("image file not found: %s", path)
		}
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return "data:image/" + imageFormat(path) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// buildParts returns the images in order followed by the question.
func buildParts(images []string, question string) ([]Part, error) {
	parts := make([]Part, 0, len(images)+1)
	for _, ref := range images {
		if isURL(ref) {
			parts = append(parts, Part{ImageURL: ref})
			continue
		}
		u, err := dataURL(ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Part{ImageURL: u})
	}
	return append(parts, Part{Text: question}), nil
}
