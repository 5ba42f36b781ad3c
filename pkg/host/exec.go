// Package host wraps the external programs edgestack drives on the target
// machine: the system package manager, the docker engine and its compose
// subcommand, and the host firewall.
package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"gopkg.hrry.dev/edgestack/pkg/log"
)

// Cmd describes one invocation of an external program.
type Cmd struct {
	Name string
	Args []string
	// Env is appended to the current process environment.
	Env []string
	// MergeStderr sends stderr into the returned output instead of the log.
	MergeStderr bool
}

// Command builds a Cmd.
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner runs external programs.
type Runner interface {
	// Run executes the command and returns its stdout.
	Run(ctx context.Context, cmd Cmd) ([]byte, error)
	LookPath(name string) (string, error)
}

// ExitError is returned when a command exits unsuccessfully.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%q exited with code %d", e.Cmd, e.Code)
	if len(e.Stderr) > 0 {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// stderrTail is the number of stderr lines kept for error messages.
const stderrTail = 5

// ExecRunner runs commands with os/exec and logs their stderr. A nil Logger
// logs through the logger stashed in the context.
type ExecRunner struct {
	Logger log.FieldLogger
}

func NewRunner(logger log.FieldLogger) *ExecRunner {
	return &ExecRunner{Logger: logger}
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (r *ExecRunner) Run(ctx context.Context, c Cmd) ([]byte, error) {
	var (
		stdout bytes.Buffer
		tail   []string
		logger = r.logger(ctx).WithField("command", c.Name)
	)
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = &stdout
	var stderr io.ReadCloser
	if c.MergeStderr {
		cmd.Stderr = &stdout
	} else {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
	}
	logger.WithField("args", c.Args).Debug("running command")
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %q", c.Name)
	}
	if stderr != nil {
		rd := bufio.NewScanner(stderr)
		for rd.Scan() {
			line := rd.Text()
			logger.WithField("source", "stderr").Debug(line)
			tail = append(tail, line)
			if len(tail) > stderrTail {
				tail = tail[1:]
			}
		}
		if err := rd.Err(); err != nil {
			logger.WithError(err).Warn("failed to read command stderr")
		}
	}
	err := cmd.Wait()
	if err != nil {
		exitErr := &ExitError{
			Cmd:    c.String(),
			Code:   -1,
			Stderr: strings.Join(tail, "\n"),
			Err:    err,
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitErr.Code = ee.ExitCode()
		}
		if ctx.Err() != nil {
			exitErr.Err = ctx.Err()
		}
		return stdout.Bytes(), exitErr
	}
	return stdout.Bytes(), nil
}

// logger prefers the runner's own logger over the one carried by ctx.
func (r *ExecRunner) logger(ctx context.Context) log.FieldLogger {
	if r.Logger == nil {
		return log.FromContext(ctx)
	}
	return r.Logger
}
