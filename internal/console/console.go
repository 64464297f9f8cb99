// Package console renders iteration and agent-stream output to the
// terminal, following the same fatih/color conventions the rest of this
// codebase uses for status output.
package console

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Formatter is the console surface the iteration driver and ACP adapter
// write through. A test double can swap in a plain, uncolored Formatter.
type Formatter interface {
	Header(title string)
	Status(msg string)
	Info(msg string)
	Success(msg string)
	Error(msg string)
	Separator()
	Message(text string)
	Thought(text string)
}

// ColorFormatter is the default, fatih/color-backed Formatter.
type ColorFormatter struct {
	out io.Writer

	cyan   func(a ...any) string
	green  func(a ...any) string
	yellow func(a ...any) string
	red    func(a ...any) string
	dim    func(a ...any) string
}

// New returns a ColorFormatter writing to stdout.
func New() *ColorFormatter {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter returns a ColorFormatter writing to an arbitrary writer,
// used by tests to capture output.
func NewWithWriter(w io.Writer) *ColorFormatter {
	return &ColorFormatter{
		out:    w,
		cyan:   color.New(color.FgCyan, color.Bold).SprintFunc(),
		green:  color.New(color.FgGreen).SprintFunc(),
		yellow: color.New(color.FgYellow).SprintFunc(),
		red:    color.New(color.FgRed).SprintFunc(),
		dim:    color.New(color.Faint, color.Italic).SprintFunc(),
	}
}

func (c *ColorFormatter) Header(title string) {
	fmt.Fprintf(c.out, "\n%s\n", c.cyan(title))
}

func (c *ColorFormatter) Status(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", c.yellow("▶"), msg)
}

func (c *ColorFormatter) Info(msg string) {
	fmt.Fprintf(c.out, "  %s\n", msg)
}

func (c *ColorFormatter) Success(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", c.green("✓"), msg)
}

func (c *ColorFormatter) Error(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", c.red("✗"), msg)
}

func (c *ColorFormatter) Separator() {
	fmt.Fprintln(c.out, "----------------------------------------")
}

func (c *ColorFormatter) Message(text string) {
	fmt.Fprint(c.out, text)
}

func (c *ColorFormatter) Thought(text string) {
	fmt.Fprint(c.out, c.dim(text))
}

// NoOpFormatter discards everything; used when verbose streaming is off.
type NoOpFormatter struct{}

func (NoOpFormatter) Header(string)  {}
func (NoOpFormatter) Status(string)  {}
func (NoOpFormatter) Info(string)    {}
func (NoOpFormatter) Success(string) {}
func (NoOpFormatter) Error(string)   {}
func (NoOpFormatter) Separator()     {}
func (NoOpFormatter) Message(string) {}
func (NoOpFormatter) Thought(string) {}
