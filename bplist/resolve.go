package bplist

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"mvdan.cc/xurls/v2"
)

// DefaultCDNBase is the public BeatSaver CDN. Song archives live at
// <base>/<hash>.zip.
const DefaultCDNBase = "https://r2cdn.beatsaver.com"

var linkRx = xurls.Strict()

// CDNURL returns the canonical download url for a song identifier.
func CDNURL(base string, id string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(id) + ".zip"
}

// songItem resolves one songs[] entry into an item. It returns a nil item
// and a warning when the entry carries neither an identifier nor a source
// url. A non-empty warning may accompany a usable item (e.g. a missing
// display name).
func songItem(s Message, idx int, cdnBase string) (*Item, string) {
	id := strings.ToLower(strings.TrimSpace(s.GetString("hash")))
	if id == "" {
		id = strings.TrimSpace(s.GetString("key"))
	}

	u := strings.TrimSpace(s.GetString("downloadURL"))
	if u == "" {
		u = customDataURL(s)
	}

	name := strings.TrimSpace(s.GetString("songName"))

	if id == "" && u == "" {
		label := name
		if label == "" {
			label = "unnamed"
		}
		return nil, fmt.Sprintf("song %d (%s) has no hash, key, or download url", idx+1, label)
	}

	if id == "" {
		id = urlStem(u)
		if id == "" {
			id = fmt.Sprintf("song-%d", idx+1)
		}
	}
	if u == "" {
		u = CDNURL(cdnBase, id)
	}
	if name == "" {
		name = id
	}

	return &Item{ID: id, Name: name, URL: u, Kind: KindArchive}, ""
}

// customDataURL returns the first http(s) url found inside the string values
// of a song's customData object. Keys are visited in sorted order so
// resolution is deterministic.
func customDataURL(s Message) string {
	cd := s.GetMessage("customData")
	if cd == nil {
		return ""
	}

	keys := make([]string, 0, len(cd))
	for k := range cd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := cd[k].(string)
		if !ok {
			continue
		}
		u := linkRx.FindString(v)
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u
		}
	}

	return ""
}

// urlStem returns the final path element of a url without its extension,
// for use as a filename stem.
func urlStem(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// coverOf extracts the playlist cover from the manifest's image field. The
// field usually holds base64 image data, optionally with a data-uri prefix;
// some exporters put a plain url there instead. A malformed cover yields a
// warning, never an error, since the songs are still downloadable.
func coverOf(m Message) (Cover, string) {
	raw := strings.TrimSpace(m.GetString("image"))
	if raw == "" {
		return Cover{}, ""
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return Cover{URL: raw}, ""
	}

	if i := strings.Index(raw, "base64,"); i >= 0 {
		raw = raw[i+len("base64,"):]
	}
	raw = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, raw)

	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Cover{}, fmt.Sprintf("cover image is not valid base64: %v", err)
	}

	return Cover{Data: b}, ""
}
