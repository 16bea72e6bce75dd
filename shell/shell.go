// Package shell runs the embedded shell commands a tool call issues,
// producing the uniform ExecResult contract toolexec defines. Commands are
// always run as an explicit argv, never through a shell interpreter, so
// there is no injection surface; shellescape is used only to render a
// human-readable, safely quoted command line for display and logging.
package shell

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"kaijutsu/toolexec"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog/log"
)

// Run executes argv[0] with argv[1:] as arguments, streaming stdout/stderr
// through the given batchers (if non-nil) as output arrives, and returns
// the final ExecResult once the process exits or ctx is canceled.
func Run(ctx context.Context, argv []string, stdoutBatcher, stderrBatcher *toolexec.Batcher) (toolexec.ExecResult, error) {
	if len(argv) == 0 {
		return toolexec.ExecResult{Success: false, Stderr: "empty command"}, nil
	}

	display := shellescape.QuoteCommand(argv)
	log.Debug().Str("command", display).Msg("shell: executing")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = teeWriter(&stdoutBuf, stdoutBatcher)
	cmd.Stderr = teeWriter(&stderrBuf, stderrBatcher)

	start := time.Now()
	err := cmd.Run()
	if stdoutBatcher != nil {
		stdoutBatcher.Close()
	}
	if stderrBatcher != nil {
		stderrBatcher.Close()
	}
	elapsed := time.Since(start)

	exitCode := 0
	success := true
	if err != nil {
		success = false
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	log.Debug().Str("command", display).Dur("elapsed", elapsed).Int("exitCode", exitCode).Msg("shell: finished")

	return toolexec.ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Success:  success,
	}, nil
}

type nopWriter struct{ w func([]byte) (int, error) }

func (n nopWriter) Write(p []byte) (int, error) { return n.w(p) }

func teeWriter(buf *bytes.Buffer, batcher *toolexec.Batcher) nopWriter {
	return nopWriter{w: func(p []byte) (int, error) {
		buf.Write(p)
		if batcher != nil {
			return batcher.Write(p)
		}
		return len(p), nil
	}}
}
