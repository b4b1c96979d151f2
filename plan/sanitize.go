package plan

import (
	"strings"

	"github.com/flytam/filenamify"
	"golang.org/x/text/unicode/norm"
)

const maxNameLen = 200

// DirName converts a playlist title into a safe directory name.
func DirName(title string) string {
	return sanitize(title, "playlist")
}

// FileStem converts an item identifier into a safe filename stem.
func FileStem(id string) string {
	return sanitize(id, "song")
}

// sanitize normalizes a name to NFC, trims leading/trailing dots and spaces,
// replaces characters that are unsafe in filenames, and collapses whitespace
// runs. It returns fallback when nothing printable survives.
func sanitize(name string, fallback string) string {
	name = norm.NFC.String(name)
	name = strings.Trim(name, ". ")

	name, err := filenamify.Filenamify(name, filenamify.Options{
		Replacement: "_",
		MaxLength:   maxNameLen,
	})
	if err != nil {
		return fallback
	}

	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, ". ")
	if name == "" {
		return fallback
	}
	return name
}
