package plan

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// WriteCover saves an embedded cover image into dir, named by its sniffed
// image format. It returns the path of the written file.
func WriteCover(dir string, data []byte) (string, error) {
	p := filepath.Join(dir, "cover"+imageExt(data))
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", &FilesystemError{Path: p, Err: err}
	}
	log.Debugf("wrote cover: %s (%d bytes)", p, len(data))
	return p, nil
}

// imageExt sniffs an image format from its leading bytes. Unrecognized data
// is treated as jpeg, the most common cover format in the wild.
func imageExt(b []byte) string {
	switch http.DetectContentType(b) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// coverExt guesses a cover file extension from its url, defaulting to jpg.
func coverExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".jpg"
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".png":
		return ".png"
	case ".gif":
		return ".gif"
	case ".webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
