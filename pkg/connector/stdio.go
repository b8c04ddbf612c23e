package connector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/log"
)

// stderrSink bounds how much of a child's stderr we retain for diagnostics
// when a connect or restart failure needs explaining.
type stderrSink struct {
	serverID string
	tail     []string
}

func (w *stderrSink) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		log.Debugf("upstream %s stderr: %s", w.serverID, line)
		w.tail = append(w.tail, line)
		if len(w.tail) > 20 {
			w.tail = w.tail[len(w.tail)-20:]
		}
	}
	return len(p), nil
}

func atVersion(v string) string {
	if v == "" {
		return ""
	}
	return "@" + v
}

// ConnectStdio spawns a local or npx-packaged upstream over
// sdkmcp.CommandTransport and completes the SDK's initialize handshake.
func ConnectStdio(ctx context.Context, client *sdkmcp.Client, spec Spec) (*Session, error) {
	var command string
	var args []string
	var env map[string]string
	var cwd string

	switch {
	case spec.Local != nil:
		command, args, env, cwd = spec.Local.Command, spec.Local.Args, spec.Local.Env, spec.Local.Cwd
	case spec.Npx != nil:
		command = "npx"
		args = append([]string{"--yes", spec.Npx.Package + atVersion(spec.Npx.Version)}, spec.Npx.Args...)
		env, cwd = spec.Npx.Env, spec.Npx.WorkDir
	default:
		return nil, errs.New(errs.KindConfig, "ConnectStdio requires a Local or Npx spec")
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "CI=1")
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	sink := &stderrSink{serverID: spec.ServerID}
	cmd.Stderr = sink

	transport := &sdkmcp.CommandTransport{Command: cmd}
	raw, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, fmt.Sprintf("connect to upstream %q (stderr: %s)", spec.ServerID, strings.Join(sink.tail, "; ")))
	}

	return &Session{ServerID: spec.ServerID, raw: raw}, nil
}
