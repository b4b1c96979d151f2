package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"bsdl/bplist"
	"bsdl/fetch"
	"bsdl/plan"
	"bsdl/run"
)

func testConsole(quiet bool) (*Console, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(Options{Out: buf, Quiet: quiet}), buf
}

func entry(name string, idx int) plan.Entry {
	return plan.Entry{
		Item:   bplist.Item{ID: name, Name: name, URL: "https://cdn.example/" + name + ".zip", Kind: bplist.KindArchive},
		Index:  idx,
		Path:   "/out/" + name + ".zip",
		Status: plan.StatusAbsent,
	}
}

func TestNonTerminalWriterDisablesColorAndBar(t *testing.T) {
	c, buf := testConsole(false)

	if c.color {
		t.Error("color enabled for a non-terminal writer")
	}

	c.BeginRun(3)
	if c.bar != nil {
		t.Error("progress bar created for a non-terminal writer")
	}

	c.ItemDone(entry("song", 0), fetch.Outcome{State: fetch.StateSucceeded, Attempts: 1, Bytes: 10})
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("output contains ansi escapes: %q", buf.String())
	}
}

func TestItemDoneLines(t *testing.T) {
	c, buf := testConsole(false)
	c.BeginRun(3)

	c.ItemDone(entry("good song", 0), fetch.Outcome{State: fetch.StateSucceeded, Attempts: 1, Bytes: 2048})
	c.ItemDone(entry("kept song", 1), fetch.Outcome{State: fetch.StateSkipped})
	c.ItemDone(entry("gone song", 2), fetch.Outcome{
		State:    fetch.StateFailed,
		Reason:   fetch.ReasonNotFound,
		Attempts: 1,
		Err:      errors.New("error status: 404 Not Found"),
	})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), out)
	}

	if !strings.Contains(lines[0], "OK") || !strings.Contains(lines[0], "good song.zip") {
		t.Errorf("ok line = %q", lines[0])
	}
	if !strings.Contains(lines[0], "[1/3]") {
		t.Errorf("ok line missing position prefix: %q", lines[0])
	}
	if !strings.Contains(lines[1], "SKIP") || !strings.Contains(lines[1], "already present") {
		t.Errorf("skip line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "FAIL") || !strings.Contains(lines[2], "not found") {
		t.Errorf("fail line = %q", lines[2])
	}
}

func TestQuietSuppressesChatterNotFailures(t *testing.T) {
	c, buf := testConsole(true)
	c.BeginRun(2)

	c.Header("x.bplist")
	c.PlaylistInfo(&bplist.Playlist{Title: "quiet mix"})
	c.OutputDir("/out")
	c.ItemDone(entry("fine", 0), fetch.Outcome{State: fetch.StateSucceeded, Attempts: 1, Bytes: 1})
	if buf.Len() != 0 {
		t.Fatalf("quiet mode still printed: %q", buf.String())
	}

	c.ItemDone(entry("broken", 1), fetch.Outcome{
		State: fetch.StateFailed, Reason: fetch.ReasonNetworkError, Attempts: 3,
	})
	if !strings.Contains(buf.String(), "FAIL") {
		t.Errorf("quiet mode swallowed a failure: %q", buf.String())
	}
}

func TestRunCompleteSummary(t *testing.T) {
	c, buf := testConsole(false)

	fe := entry("lost song", 4)
	r := &run.Report{
		Title:     "mix",
		Total:     6,
		Succeeded: 4,
		Skipped:   1,
		Failed:    1,
		Bytes:     5 * 1024 * 1024,
		Elapsed:   1500 * time.Millisecond,
		Failures: []run.Failure{
			{Entry: fe, Outcome: fetch.Outcome{State: fetch.StateFailed, Reason: fetch.ReasonNotFound, Attempts: 1}},
		},
	}
	c.RunComplete(r)

	out := buf.String()
	for _, want := range []string{
		"Download Summary", "Succeeded", "Skipped", "Failed",
		"lost song", "not_found", "Downloaded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "interrupted") {
		t.Error("summary mentions interruption on a completed run")
	}
}

func TestRunCompleteQuietStillPrintsSummary(t *testing.T) {
	c, buf := testConsole(true)

	c.RunComplete(&run.Report{Total: 2, Succeeded: 2})
	if !strings.Contains(buf.String(), "Download Summary") {
		t.Errorf("quiet mode suppressed the summary: %q", buf.String())
	}
}

func TestRunCompleteInterrupted(t *testing.T) {
	c, buf := testConsole(false)

	c.RunComplete(&run.Report{Total: 5, Succeeded: 2, Cancelled: true})
	if !strings.Contains(buf.String(), "interrupted") {
		t.Errorf("no interruption notice: %q", buf.String())
	}
}

func TestPlanStatus(t *testing.T) {
	p := &plan.Plan{Dir: "/out"}
	present := entry("have it", 0)
	present.Status = plan.StatusPresentValid
	missing := entry("need it", 1)
	p.Entries = []plan.Entry{present, missing}

	c, buf := testConsole(false)
	c.PlanStatus(p, false)

	out := buf.String()
	if !strings.Contains(out, "Present") || !strings.Contains(out, "Missing") {
		t.Errorf("status table incomplete:\n%s", out)
	}
	if !strings.Contains(out, "Downloading 1 missing song(s)") {
		t.Errorf("missing-count line wrong:\n%s", out)
	}
}

func TestPlanStatusAllPresent(t *testing.T) {
	p := &plan.Plan{Dir: "/out"}
	e := entry("have it", 0)
	e.Status = plan.StatusPresentValid
	p.Entries = []plan.Entry{e}

	c, buf := testConsole(false)
	c.PlanStatus(p, false)

	if !strings.Contains(buf.String(), "All songs already present") {
		t.Errorf("all-present message missing:\n%s", buf.String())
	}
}

func TestPlanStatusEmpty(t *testing.T) {
	c, buf := testConsole(false)
	c.PlanStatus(&plan.Plan{Dir: "/out"}, false)

	out := buf.String()
	if !strings.Contains(out, "No songs found in playlist.") {
		t.Errorf("empty-playlist message missing:\n%s", out)
	}
	if strings.Contains(out, "Status") {
		t.Errorf("empty plan should not render a table:\n%s", out)
	}
}

func TestPlanStatusForce(t *testing.T) {
	p := &plan.Plan{Dir: "/out"}
	p.Entries = []plan.Entry{entry("x", 0)}

	c, buf := testConsole(false)
	c.PlanStatus(p, true)

	if !strings.Contains(buf.String(), "Force redownload enabled") {
		t.Errorf("force notice missing:\n%s", buf.String())
	}
}

func TestPlaylistInfo(t *testing.T) {
	c, buf := testConsole(false)

	c.PlaylistInfo(&bplist.Playlist{
		Title:       "My Mix",
		Author:      "curator",
		Description: strings.Repeat("long ", 50),
		Items:       []bplist.Item{{ID: "aa"}, {ID: "bb"}},
	})

	out := buf.String()
	if !strings.Contains(out, "My Mix") || !strings.Contains(out, "curator") {
		t.Errorf("info block incomplete:\n%s", out)
	}
	if !strings.Contains(out, "2") {
		t.Errorf("song count missing:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 5); got != "ab..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("truncate shortened a short string: %q", got)
	}
	if got := truncate("abcdef", 2); got != "ab" {
		t.Errorf("truncate tiny max = %q", got)
	}
}
