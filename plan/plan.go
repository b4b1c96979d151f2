// Package plan decides where a playlist's files land on disk and which of
// them still need downloading. A plan is computed fresh at the start of each
// run and never mutated afterward.
package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"bsdl/bplist"
	"bsdl/fileutil"

	log "github.com/sirupsen/logrus"
)

// Status classifies a plan entry's target file before the run.
type Status string

const (
	// StatusAbsent means the target file does not exist and must be fetched.
	StatusAbsent Status = "absent"

	// StatusPresentValid means the target file exists and passes the size
	// check. It is skipped unless force mode is on.
	StatusPresentValid Status = "present-valid"

	// StatusPresentInvalid means the target file exists but is empty, the
	// footprint of an interrupted earlier run. It is fetched again.
	StatusPresentInvalid Status = "present-invalid"
)

// Entry pairs a playlist item with its target file on disk.
type Entry struct {
	Item   bplist.Item
	Index  int    // position in the manifest
	Path   string // target path
	Status Status
}

// Plan is the full set of filesystem decisions for one run.
type Plan struct {
	Dir     string  // output directory
	Entries []Entry // one per playlist item, manifest order
	Cover   *Entry  // by-url cover download, nil when embedded or absent
}

// MissingCount returns the number of entries the fetch engine will hit the
// network for.
func (p *Plan) MissingCount() int {
	n := 0
	for _, e := range p.Entries {
		if e.Status != StatusPresentValid {
			n++
		}
	}
	return n
}

// FilesystemError indicates the output directory cannot be prepared or
// inspected.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error: %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// OutputDir returns the directory a playlist's files are saved to, rooted at
// root.
func OutputDir(root string, title string) string {
	return filepath.Join(root, DirName(title))
}

// Ensure creates the output directory if it does not already exist.
func Ensure(dir string) error {
	if fileutil.FileExists(dir) && !fileutil.IsDir(dir) {
		return &FilesystemError{Path: dir, Err: errors.New("exists and is not a directory")}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FilesystemError{Path: dir, Err: err}
	}
	return nil
}

// Build computes one entry per playlist item, plus a cover entry when the
// manifest references its cover by url. force marks every target absent so
// the fetch engine downloads it again.
func Build(pl *bplist.Playlist, dir string, force bool) (*Plan, error) {
	p := &Plan{Dir: dir}
	assigned := map[string]bool{}

	// target picks an unused filename for the given stem, disambiguating
	// repeats with an ordinal suffix. Target paths are unique within a run
	// so no two downloads ever share a file.
	target := func(stem string, ext string) string {
		name := stem + ext
		for i := 2; assigned[name]; i++ {
			name = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		assigned[name] = true
		return filepath.Join(dir, name)
	}

	for i, item := range pl.Items {
		path := target(FileStem(item.ID), ".zip")
		status, err := classify(path, force)
		if err != nil {
			return nil, err
		}
		log.Debugf("planned %s: status=%s", path, status)
		p.Entries = append(p.Entries, Entry{Item: item, Index: i, Path: path, Status: status})
	}

	if pl.Cover.URL != "" {
		path := target("cover", coverExt(pl.Cover.URL))
		status, err := classify(path, force)
		if err != nil {
			return nil, err
		}
		p.Cover = &Entry{
			Item:   bplist.Item{ID: "cover", Name: "cover image", URL: pl.Cover.URL, Kind: bplist.KindImage},
			Index:  len(pl.Items),
			Path:   path,
			Status: status,
		}
	}

	return p, nil
}

// classify inspects a target path and decides whether the fetch engine needs
// to download it. Validity is a size check only: a zero-byte file is treated
// as a leftover from a crashed run, anything bigger as complete.
func classify(path string, force bool) (Status, error) {
	if force {
		return StatusAbsent, nil
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return StatusAbsent, nil
	}
	if err != nil {
		return "", &FilesystemError{Path: path, Err: err}
	}
	if info.IsDir() {
		return "", &FilesystemError{Path: path, Err: errors.New("target path is a directory")}
	}
	if info.Size() == 0 {
		return StatusPresentInvalid, nil
	}
	return StatusPresentValid, nil
}
