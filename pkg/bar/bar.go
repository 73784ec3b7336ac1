// Package bar renders the auto-baud sweep as a terminal progress bar.
package bar

import (
	"fmt"
	"io"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func newBar(w io.Writer, length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Sweep follows an auto-baud sweep, its Progress method fits
// mcp2515.OptProgress. The bar is created on the first candidate, which
// carries the total number of candidates in the sweep.
type Sweep struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func NewSweep() *Sweep {
	return &Sweep{w: ansi.NewAnsiStdout()}
}

func (s *Sweep) Progress(kbps, n, total int) {
	if s.bar == nil {
		s.bar = newBar(s.w, total, "")
	}
	s.bar.Describe(fmt.Sprintf("[cyan]listening at %4d kbps[reset]", kbps))
	s.bar.Set(n)
}

// Done completes the bar, found is the detected speed or 0.
func (s *Sweep) Done(found int) {
	if s.bar == nil {
		return
	}
	if found > 0 {
		s.bar.Describe(fmt.Sprintf("[green]found %d kbps[reset]", found))
		s.bar.Finish()
	} else {
		s.bar.Describe("[red]no bus activity[reset]")
	}
	fmt.Fprintln(s.w)
}
