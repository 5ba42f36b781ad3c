package log

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestParseLevel(t *testing.T) {
	is := is.New(t)
	for _, tt := range []struct {
		in  string
		exp Level
	}{
		{"", InfoLevel},
		{"debug", DebugLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"trace", TraceLevel},
	} {
		l, err := ParseLevel(tt.in)
		is.NoErr(err)
		is.Equal(l, tt.exp)
	}
	_, err := ParseLevel("loud")
	is.True(err != nil)
}

func TestWithServiceName(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	l := New(
		WithOutput(&buf),
		WithFormat(JSONFormat),
		WithServiceName("edgestack"),
	)
	l.Info("hello")
	var entry map[string]any
	is.NoErr(json.Unmarshal(buf.Bytes(), &entry))
	is.Equal(entry["service"], "edgestack")
	is.Equal(entry["msg"], "hello")
}

func TestWithEnv(t *testing.T) {
	is := is.New(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	l := New(WithEnv())
	is.Equal(l.Level, DebugLevel)
	is.Equal(l.Formatter, &JSONFormatter)
}

func TestContextLogger(t *testing.T) {
	is := is.New(t)
	l := New()
	is.Equal(FromContext(context.Background()), GetLogger())
	ctx := StashedInContext(context.Background(), l)
	is.Equal(FromContext(ctx), l)
}

func TestGetOutput(t *testing.T) {
	is := is.New(t)
	t.Setenv("TEST_LOG_OUTPUT", "stdout")
	is.Equal(GetOutput("TEST_LOG_OUTPUT"), os.Stdout)
	t.Setenv("TEST_LOG_OUTPUT", "2")
	is.Equal(GetOutput("TEST_LOG_OUTPUT"), os.Stderr)

	file := filepath.Join(t.TempDir(), "out.log")
	t.Setenv("TEST_LOG_OUTPUT", file)
	w := GetOutput("TEST_LOG_OUTPUT")
	f, ok := w.(*os.File)
	is.True(ok)
	defer f.Close()
	_, err := f.WriteString("line\n")
	is.NoErr(err)
	b, err := os.ReadFile(file)
	is.NoErr(err)
	is.Equal(string(b), "line\n")
}

func TestColorLogger(t *testing.T) {
	is := is.New(t)
	var (
		buf  bytes.Buffer
		code = -1
	)
	cl := NewColorLogger(&buf, NoColor)
	cl.exit = func(n int) { code = n }

	cl.Successf("started %d services", 2)
	cl.Warning("certificate not ready")
	cl.Errorf("failed: %s", "boom")
	cl.Fatal("stop")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	is.Equal(len(lines), 4)
	is.True(strings.HasSuffix(lines[0], "started 2 services"))
	is.True(strings.HasSuffix(lines[1], "certificate not ready"))
	is.True(strings.HasSuffix(lines[2], "failed: boom"))
	is.True(strings.HasPrefix(lines[0], "["))
	is.Equal(code, 1)
}
