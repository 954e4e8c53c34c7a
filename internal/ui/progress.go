package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	units "github.com/docker/go-units"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

const progressBarWidth = 40

// ProgressPrinter renders transfer progress. On a terminal it redraws one
// bar line in place; otherwise it prints a line every ten percent.
type ProgressPrinter struct {
	out         io.Writer
	interactive bool
	bar         progress.Model

	mu       sync.Mutex
	lastStep int
	drawn    bool
}

// NewProgressPrinter creates a printer writing to out.
func NewProgressPrinter(out io.Writer, interactive bool) *ProgressPrinter {
	return &ProgressPrinter{
		out:         out,
		interactive: interactive,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(progressBarWidth)),
		lastStep:    -1,
	}
}

// Update draws p. It has the signature of atomdeploy.ProgressFunc.
func (pp *ProgressPrinter) Update(p atomdeploy.Progress) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	fraction := p.Fraction()
	if pp.interactive {
		fmt.Fprintf(pp.out, "\r%s %s", pp.bar.ViewAs(fraction), Summary(p))
		pp.drawn = true
		return
	}

	step := int(fraction * 10)
	if step == pp.lastStep {
		return
	}
	pp.lastStep = step
	fmt.Fprintf(pp.out, "%3.0f%% %s\n", fraction*100, Summary(p))
}

// Finish ends the bar line so later output starts on a fresh line.
func (pp *ProgressPrinter) Finish() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.drawn {
		fmt.Fprintln(pp.out)
		pp.drawn = false
	}
	pp.lastStep = -1
}

// Summary renders counters as "3/10 files, 1.2MB/4MB".
func Summary(p atomdeploy.Progress) string {
	return fmt.Sprintf("%d/%d files, %s/%s",
		p.FilesTransferred, p.FilesTotal,
		units.HumanSize(float64(p.BytesTransferred)), units.HumanSize(float64(p.BytesTotal)))
}
