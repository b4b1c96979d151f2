// Package bplist parses BeatSaver .bplist playlist manifests into a list of
// downloadable items. Parsing is side-effect free: malformed song entries are
// dropped with a recorded warning, and only a manifest that yields no usable
// work list at all is an error.
package bplist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies what sort of artifact an item refers to.
type Kind string

const (
	KindArchive Kind = "archive"
	KindImage   Kind = "image"
)

// Item is a single downloadable artifact listed in a playlist. Items are
// value types and never mutated after parsing.
type Item struct {
	ID   string // filename stem; lowercased song hash, else key
	Name string // display name
	URL  string // resolved source url
	Kind Kind
}

// Cover is a playlist cover image, either embedded in the manifest or
// referenced by url. At most one of Data and URL is set.
type Cover struct {
	Data []byte // decoded embedded image
	URL  string // remote image url
}

// Empty returns true if the playlist carries no cover image.
func (c Cover) Empty() bool {
	return len(c.Data) == 0 && c.URL == ""
}

// Playlist is a parsed .bplist manifest.
type Playlist struct {
	Title       string
	Author      string
	Description string
	Cover       Cover
	Items       []Item   // manifest order
	Warnings    []string // entries dropped or ignored during parsing
}

// ParseError indicates a manifest that cannot be turned into a work list.
type ParseError struct {
	Path string // manifest path, "" when parsing raw bytes
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid playlist: %v", e.Err)
	}
	return fmt.Sprintf("invalid playlist %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseOptions adjust how a manifest is interpreted. Zero values select the
// defaults.
type ParseOptions struct {
	FallbackTitle string // used when the manifest names no playlistTitle
	CDNBase       string // base url for identifier-derived download urls
}

// Parse converts raw manifest bytes into a playlist. It returns a ParseError
// if the payload is not a JSON object or has no songs array; individual song
// entries that cannot be resolved are dropped and noted in
// Playlist.Warnings instead.
func Parse(b []byte, opts ParseOptions) (*Playlist, error) {
	cdnBase := opts.CDNBase
	if cdnBase == "" {
		cdnBase = DefaultCDNBase
	}

	m := Message{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("not a json object: %v", err)}
	}

	pl := &Playlist{
		Title:       strings.TrimSpace(m.GetString("playlistTitle")),
		Author:      strings.TrimSpace(m.GetString("playlistAuthor")),
		Description: strings.TrimSpace(m.GetString("playlistDescription")),
	}
	if pl.Title == "" {
		pl.Title = opts.FallbackTitle
	}

	songs, err := m.GetSliceOfMessages("songs")
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if songs == nil {
		return nil, &ParseError{Err: errors.New("manifest has no songs array")}
	}

	for i, s := range songs {
		item, warn := songItem(s, i, cdnBase)
		if warn != "" {
			pl.Warnings = append(pl.Warnings, warn)
		}
		if item != nil {
			pl.Items = append(pl.Items, *item)
		}
	}

	cover, warn := coverOf(m)
	if warn != "" {
		pl.Warnings = append(pl.Warnings, warn)
	}
	pl.Cover = cover

	return pl, nil
}

// ParseFile reads and parses the manifest at the given path. The playlist
// title falls back to the manifest filename stem when the manifest does not
// name one.
func ParseFile(path string, cdnBase string) (*Playlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pl, err := Parse(b, ParseOptions{FallbackTitle: stem, CDNBase: cdnBase})
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	return pl, nil
}
