package host

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/pkg/errors"
	"gopkg.hrry.dev/edgestack/pkg/log"
)

func testRunner() *ExecRunner {
	return NewRunner(log.New(log.WithLevel(log.ErrorLevel)))
}

func TestExecRunner(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	r := testRunner()

	out, err := r.Run(ctx, Command("sh", "-c", "echo out; echo err 1>&2"))
	is.NoErr(err)
	is.Equal(string(out), "out\n")

	merged := Command("sh", "-c", "echo out; echo err 1>&2")
	merged.MergeStderr = true
	out, err = r.Run(ctx, merged)
	is.NoErr(err)
	is.True(strings.Contains(string(out), "err"))

	env := Command("sh", "-c", "echo $EDGESTACK_TEST")
	env.Env = []string{"EDGESTACK_TEST=yes"}
	out, err = r.Run(ctx, env)
	is.NoErr(err)
	is.Equal(string(out), "yes\n")
}

func TestExecRunnerExitError(t *testing.T) {
	is := is.New(t)
	r := testRunner()
	_, err := r.Run(context.Background(), Command("sh", "-c", "echo one 1>&2; echo two 1>&2; exit 3"))
	is.True(err != nil)
	var exitErr *ExitError
	is.True(errors.As(err, &exitErr))
	is.Equal(exitErr.Code, 3)
	is.Equal(exitErr.Stderr, "one\ntwo")
	is.True(strings.Contains(exitErr.Error(), "exited with code 3"))
}

func TestExecRunnerContext(t *testing.T) {
	is := is.New(t)
	r := testRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := r.Run(ctx, Command("sleep", "5"))
	is.True(err != nil)
	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(start) < 4*time.Second)
}

func TestExecRunnerContextLogger(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	stashed := log.New(
		log.WithOutput(&buf),
		log.WithLevel(log.DebugLevel),
		log.WithFormat(log.JSONFormat),
	).WithField("step", "docker")
	ctx := log.StashedInContext(context.Background(), stashed)

	_, err := (&ExecRunner{}).Run(ctx, Command("sh", "-c", "echo warning 1>&2"))
	is.NoErr(err)
	is.True(strings.Contains(buf.String(), `"step":"docker"`))
	is.True(strings.Contains(buf.String(), `"command":"sh"`))
	is.True(strings.Contains(buf.String(), "warning"))

	buf.Reset()
	quiet := NewRunner(log.New(log.WithLevel(log.ErrorLevel)))
	_, err = quiet.Run(ctx, Command("sh", "-c", "echo warning 1>&2"))
	is.NoErr(err)
	is.Equal(buf.Len(), 0) // runner logger wins over the context
}

func TestCmdString(t *testing.T) {
	is := is.New(t)
	is.Equal(Command("docker").String(), "docker")
	is.Equal(Command("docker", "compose", "up", "-d").String(), "docker compose up -d")
	is.Equal(Port{Number: 443}.String(), "443/tcp")
	is.Equal(Port{Number: 53, Proto: "udp"}.String(), "53/udp")
}
