package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

func TestSummary(t *testing.T) {
	got := Summary(atomdeploy.Progress{FilesTransferred: 3, FilesTotal: 10, BytesTransferred: 1500, BytesTotal: 4000})
	if got != "3/10 files, 1.5kB/4kB" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestProgressPrinter_NonInteractivePrintsEveryTenPercent(t *testing.T) {
	var out bytes.Buffer
	pp := NewProgressPrinter(&out, false)

	total := atomdeploy.Progress{FilesTotal: 100}
	for i := 0; i <= 100; i++ {
		p := total
		p.FilesTransferred = i
		pp.Update(p)
	}
	pp.Finish()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 11 {
		t.Fatalf("expected 11 lines (0%%..100%%), got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "  0%") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[10], "100%") || !strings.Contains(lines[10], "100/100 files") {
		t.Errorf("last line = %q", lines[10])
	}
}

func TestProgressPrinter_InteractiveRedrawsInPlace(t *testing.T) {
	var out bytes.Buffer
	pp := NewProgressPrinter(&out, true)

	pp.Update(atomdeploy.Progress{FilesTotal: 2, BytesTotal: 10})
	pp.Update(atomdeploy.Progress{FilesTransferred: 2, FilesTotal: 2, BytesTransferred: 10, BytesTotal: 10})
	pp.Finish()

	s := out.String()
	if strings.Count(s, "\r") != 2 {
		t.Errorf("expected two carriage returns, got %q", s)
	}
	if !strings.Contains(s, "2/2 files, 10B/10B") {
		t.Errorf("missing final summary in %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Error("Finish should end the bar line")
	}
}
