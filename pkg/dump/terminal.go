package dump

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	colorAddr  = "\x1b[34m"
	colorType  = "\x1b[36m"
	colorError = "\x1b[31m"
	colorReset = "\x1b[0m"
)

// Terminal returns a writer for f that is capable of interpreting ANSI
// escape codes, and whether colors should be written to it.
func Terminal(f *os.File) (io.Writer, bool) {
	if !isatty.IsTerminal(f.Fd()) || strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return f, false
	}
	return colorable.NewColorable(f), true
}
