package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color is a terminal color understood by lipgloss: an ANSI code or a hex
// string.
type Color string

const (
	NoColor Color = ""
	Red     Color = "1"
	Green   Color = "2"
	Blue    Color = "4"
	Cyan    Color = "6"
	Orange  Color = "214"
	Grey    Color = "245"
)

// ColorLogger is a logger that prints in color.
type ColorLogger struct {
	output   io.Writer
	col      Color
	renderer *lipgloss.Renderer
	exit     func(int)
}

// NewColorLogger creates a new logger that prints in color. Colors are
// dropped automatically when w is not a terminal.
func NewColorLogger(w io.Writer, color Color) *ColorLogger {
	return &ColorLogger{
		output:   w,
		col:      color,
		renderer: lipgloss.NewRenderer(w),
		exit:     os.Exit,
	}
}

func (cl *ColorLogger) style(col Color) lipgloss.Style {
	s := cl.renderer.NewStyle()
	if col != NoColor {
		s = s.Foreground(lipgloss.Color(col))
	}
	return s
}

// Output writes a string to the logger.
func (cl *ColorLogger) Output(out string, col Color) {
	var (
		t = time.Now()
		b = &bytes.Buffer{}
	)
	b.WriteString(cl.style(col).Render(t.Format("[15:04:05]")))
	b.WriteByte(' ')
	fmt.Fprint(b, out)

	_, err := cl.output.Write(b.Bytes())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Logging Error: ", err)
	}
}

// Printf prints with a format
func (cl *ColorLogger) Printf(format string, v ...interface{}) {
	cl.Output(fmt.Sprintf(format, v...), cl.col)
}

// Println prints to the logger with a new line at the end.
func (cl *ColorLogger) Println(v ...interface{}) {
	cl.Output(fmt.Sprintln(v...), cl.col)
}

// Step prints a bold section banner.
func (cl *ColorLogger) Step(v ...interface{}) {
	cl.Output(cl.style(Blue).Bold(true).Render(fmt.Sprint(v...))+"\n", Blue)
}

// Success prints to the logger in green.
func (cl *ColorLogger) Success(v ...interface{}) {
	cl.Output(cl.style(Green).Render(fmt.Sprint(v...))+"\n", Green)
}

// Successf prints a formatted line in green.
func (cl *ColorLogger) Successf(format string, v ...interface{}) {
	cl.Success(fmt.Sprintf(format, v...))
}

// Warning prints to the logger as a warning.
func (cl *ColorLogger) Warning(v ...interface{}) {
	cl.Output(cl.style(Orange).Render(fmt.Sprint(v...))+"\n", Orange)
}

// Warningf logs a formatted warning in orange.
func (cl *ColorLogger) Warningf(format string, v ...interface{}) {
	cl.Warning(fmt.Sprintf(format, v...))
}

// Error prints to the logger as an error.
func (cl *ColorLogger) Error(v ...interface{}) {
	cl.Output(cl.style(Red).Render(fmt.Sprint(v...))+"\n", Red)
}

// Errorf logs a formatted error in red.
func (cl *ColorLogger) Errorf(format string, v ...interface{}) {
	cl.Error(fmt.Sprintf(format, v...))
}

// Fatal will output an error and exit the program.
func (cl *ColorLogger) Fatal(v ...interface{}) {
	cl.Error(v...)
	cl.exit(1)
}
