// Package progress draws terminal progress for long running CLI work.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter is the interface for reporting progress of one counted operation.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress draws a single byte-counting progressbar on stderr.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

// NewCLIByteProgress creates a progress reporter counting bytes.
func NewCLIByteProgress() *CLIProgress {
	return &CLIProgress{w: os.Stderr}
}

// Start initializes the progress bar with total and description.
// A negative total draws a spinner.
func (p *CLIProgress) Start(total int64, description string) {
	w := p.w
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// NoOpProgress is a progress reporter that does nothing.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}
func (p *NoOpProgress) SetDescription(desc string)            {}

// ProgressWriter wraps an io.Writer to report bytes written.
type ProgressWriter struct {
	writer   io.Writer
	reporter Reporter
	current  int64
}

// NewProgressWriter creates a new progress-reporting writer.
func NewProgressWriter(w io.Writer, reporter Reporter) *ProgressWriter {
	return &ProgressWriter{writer: w, reporter: reporter}
}

// Write implements io.Writer with progress reporting.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.current += int64(n)
	pw.reporter.Update(pw.current)
	return n, err
}

// Written returns the number of bytes written so far.
func (pw *ProgressWriter) Written() int64 {
	return pw.current
}
