// Package console renders run progress and results for a terminal. It is the
// only package that formats user-facing text; the orchestrator hands it
// structured events through the run.Reporter interface and this package turns
// them into status lines, tables, and a progress bar.
package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bsdl/bplist"
	"bsdl/fetch"
	"bsdl/plan"
	"bsdl/run"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const nameWidth = 40

// Options adjust console rendering.
type Options struct {
	Out   io.Writer // defaults to os.Stdout
	Quiet bool      // suppress progress output; failures and summary still print
}

// Console writes human-readable run progress. It implements run.Reporter.
// The orchestrator serializes reporter callbacks, so Console needs no
// internal locking.
type Console struct {
	out   io.Writer
	quiet bool
	color bool
	tty   bool

	total int
	bar   *progressbar.ProgressBar
}

// New returns a console writing to opts.Out. Colors and the progress bar
// engage only when the writer is a terminal.
func New(opts Options) *Console {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return &Console{
		out:   out,
		quiet: opts.Quiet,
		color: tty && os.Getenv("NO_COLOR") == "",
		tty:   tty,
	}
}

// Header prints the tool banner and the manifest being loaded.
func (c *Console) Header(manifestPath string) {
	if c.quiet {
		return
	}
	c.section("BeatSaver Playlist Downloader")
	fmt.Fprintf(c.out, "Loading playlist: %s\n", manifestPath)
}

// PlaylistInfo prints the playlist metadata block.
func (c *Console) PlaylistInfo(pl *bplist.Playlist) {
	if c.quiet {
		return
	}

	rows := [][]string{
		{"Title", pl.Title},
		{"Author", orDash(pl.Author)},
	}
	if pl.Description != "" {
		rows = append(rows, []string{"Description", truncate(pl.Description, 100)})
	}
	rows = append(rows, []string{"Songs", strconv.Itoa(len(pl.Items))})

	fmt.Fprintln(c.out, renderTable(
		[]string{"Playlist", ""},
		rows,
		[]columnAlignment{alignLeft, alignLeft},
	))
}

// OutputDir prints the resolved output directory.
func (c *Console) OutputDir(dir string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "Output directory: %s\n", dir)
}

// CoverSaved prints the saved cover path.
func (c *Console) CoverSaved(path string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "Saved cover image: %s\n", path)
}

// ManifestCopied prints the path of the manifest copy.
func (c *Console) ManifestCopied(path string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "Copied playlist file: %s\n", path)
}

// PlanStatus prints the pre-run status table and says how much work is left.
func (c *Console) PlanStatus(p *plan.Plan, force bool) {
	if c.quiet {
		return
	}

	if len(p.Entries) == 0 {
		fmt.Fprintln(c.out, c.colorize("No songs found in playlist.", ansiYellow))
		return
	}

	rows := make([][]string, 0, len(p.Entries))
	for i, e := range p.Entries {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			truncate(e.Item.Name, nameWidth),
			truncate(e.Item.ID, 15),
			c.statusLabel(e.Status),
		})
	}
	fmt.Fprintln(c.out, renderTable(
		[]string{"#", "Song", "ID", "Status"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))

	missing := p.MissingCount()
	switch {
	case force:
		fmt.Fprintln(c.out, c.colorize("Force redownload enabled; fetching all songs again.", ansiYellow))
	case missing == 0:
		fmt.Fprintln(c.out, c.colorize("All songs already present. Nothing to download.", ansiGreen))
	case missing > 0:
		fmt.Fprintf(c.out, "Downloading %d missing song(s)...\n", missing)
	}
}

// BeginRun sizes the progress bar for the coming run. Call it once, before
// the orchestrator starts.
func (c *Console) BeginRun(total int) {
	c.total = total
	if c.quiet || !c.tty || total == 0 {
		return
	}
	c.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// ItemStart implements run.Reporter.
func (c *Console) ItemStart(e plan.Entry) {
	if c.bar != nil {
		c.bar.Describe(truncate(e.Item.Name, nameWidth))
	}
}

// ItemDone implements run.Reporter.
func (c *Console) ItemDone(e plan.Entry, oc fetch.Outcome) {
	if c.bar != nil {
		_ = c.bar.Clear()
		defer func() { _ = c.bar.Add(1) }()
	}

	switch oc.State {
	case fetch.StateSucceeded:
		c.itemLine(e, "OK", ansiGreen,
			fmt.Sprintf("%s  %s", humanize.Bytes(uint64(oc.Bytes)), filepath.Base(e.Path)))
	case fetch.StateSkipped:
		c.itemLine(e, "SKIP", ansiYellow, "already present")
	case fetch.StateFailed:
		c.failLine(e, oc)
	}
}

// RunComplete implements run.Reporter. It prints the summary exactly once,
// for complete and interrupted runs alike.
func (c *Console) RunComplete(r *run.Report) {
	if c.bar != nil {
		_ = c.bar.Clear()
		c.bar = nil
	}

	if r.Cancelled {
		fmt.Fprintln(c.out, c.colorize("Download interrupted; partial results follow.", ansiYellow))
	}

	c.section("Download Summary")
	fmt.Fprintln(c.out, renderTable(
		[]string{"Result", "Count"},
		[][]string{
			{"Succeeded", strconv.Itoa(r.Succeeded)},
			{"Skipped", strconv.Itoa(r.Skipped)},
			{"Failed", strconv.Itoa(r.Failed)},
			{"Total songs", strconv.Itoa(r.Total)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))
	fmt.Fprintf(c.out, "Downloaded %s in %v\n",
		humanize.Bytes(uint64(r.Bytes)), r.Elapsed.Round(100*time.Millisecond))

	// Embedded covers are announced before the run; by-url covers land here.
	if r.CoverOutcome != nil && r.CoverPath != "" {
		fmt.Fprintf(c.out, "Saved cover image: %s\n", r.CoverPath)
	}

	if len(r.Failures) > 0 {
		rows := make([][]string, 0, len(r.Failures))
		for _, f := range r.Failures {
			rows = append(rows, []string{
				strconv.Itoa(f.Entry.Index + 1),
				truncate(f.Entry.Item.Name, nameWidth),
				string(f.Outcome.Reason),
				strconv.Itoa(f.Outcome.Attempts),
			})
		}
		fmt.Fprintln(c.out, renderTable(
			[]string{"#", "Song", "Reason", "Attempts"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
		))
		fmt.Fprintln(c.out, c.colorize(
			fmt.Sprintf("%d song(s) failed to download. Check your connection and try again.", r.Failed),
			ansiYellow))
	}
}

// itemLine prints one per-item result line unless quiet mode is on.
func (c *Console) itemLine(e plan.Entry, status string, color string, detail string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s %s %s\n", c.prefix(e), c.colorize(pad(status, 4), color), detail)
}

// failLine prints a failure. Failures print even in quiet mode.
func (c *Console) failLine(e plan.Entry, oc fetch.Outcome) {
	fmt.Fprintf(c.out, "%s %s %s\n", c.prefix(e), c.colorize(pad("FAIL", 4), ansiRed), failDetail(oc))
}

// prefix renders the lvcoi-style "[ 3/12] name" item prefix.
func (c *Console) prefix(e plan.Entry) string {
	total := c.total
	if total <= 0 {
		total = e.Index + 1
	}
	width := len(strconv.Itoa(total))
	return fmt.Sprintf("[%*d/%d] %-*s", width, e.Index+1, total, nameWidth, truncate(e.Item.Name, nameWidth))
}

func (c *Console) section(title string) {
	line := fmt.Sprintf("== %s ==", title)
	fmt.Fprintln(c.out, c.colorize(line, ansiBlue))
}

func (c *Console) statusLabel(s plan.Status) string {
	switch s {
	case plan.StatusPresentValid:
		return c.colorize("Present", ansiGreen)
	case plan.StatusPresentInvalid:
		return c.colorize("Empty (redo)", ansiYellow)
	default:
		return c.colorize("Missing", ansiYellow)
	}
}

func (c *Console) colorize(text string, color string) string {
	if !c.color || color == "" {
		return text
	}
	return color + text + ansiReset
}

func failDetail(oc fetch.Outcome) string {
	switch oc.Reason {
	case fetch.ReasonNotFound:
		return "not found on the server"
	case fetch.ReasonCancelled:
		return "cancelled"
	case fetch.ReasonInternal:
		if oc.Err != nil {
			return fmt.Sprintf("internal error: %v", oc.Err)
		}
		return "internal error"
	default:
		if oc.Err != nil {
			return fmt.Sprintf("network error after %d attempt(s): %v", oc.Attempts, oc.Err)
		}
		return fmt.Sprintf("network error after %d attempt(s)", oc.Attempts)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	if max <= 3 {
		return text[:max]
	}
	return text[:max-3] + "..."
}
