package commands

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/control"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = orig

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestPrintResponseReturnsErrorOnFailure(t *testing.T) {
	err := printResponse(control.Response{OK: false, Error: "boom"}, "json")
	require.ErrorContains(t, err, "boom")
}

func TestPrintResponsePrintsOKForEmptyData(t *testing.T) {
	out := captureStdout(t, func() {
		require.NoError(t, printResponse(control.Response{OK: true}, "json"))
	})
	require.Equal(t, "OK\n", out)
}

func TestPrintResponsePrettyPrintsJSONData(t *testing.T) {
	data, _ := json.Marshal(map[string]string{"router_id": "192.0.2.1"})
	out := captureStdout(t, func() {
		require.NoError(t, printResponse(control.Response{OK: true, Data: data}, "table"))
	})
	require.Contains(t, out, "router_id")
	require.Contains(t, out, "192.0.2.1")
}

func TestPrintResponseFallsBackToRawOnUnparsableData(t *testing.T) {
	out := captureStdout(t, func() {
		require.NoError(t, printResponse(control.Response{OK: true, Data: []byte("not json")}, "json"))
	})
	require.Equal(t, "not json\n", out)
}

func TestPrintResponseRejectsUnsupportedFormat(t *testing.T) {
	err := printResponse(control.Response{OK: true, Data: []byte("{}")}, "xml")
	require.ErrorIs(t, err, errUnsupportedFormat)
}

// startTestDaemon runs a control.Server backed by handler and points the
// package-level ctl/socketPath globals at it, the same way PersistentPreRunE
// would after parsing --socket.
func startTestDaemon(t *testing.T, handler control.Handler) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ldpd.sock")
	srv := control.NewServer(path, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("test daemon did not shut down")
		}
	})

	require.Eventually(t, func() bool {
		c := control.NewClient(path)
		_, err := c.Call("version", nil)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	socketPath = path
	ctl = control.NewClient(path)
}

func TestShowSubCommandCallsShowPrefixedCommand(t *testing.T) {
	var gotCommand string
	startTestDaemon(t, func(_ context.Context, req control.Request) control.Response {
		gotCommand = req.Command
		data, _ := json.Marshal(map[string]string{"ok": "1"})
		return control.Response{OK: true, Data: data}
	})

	cmd := showSubCmd("lib", "show lib")
	cmd.SetArgs(nil)
	out := captureStdout(t, func() {
		require.NoError(t, cmd.RunE(cmd, nil))
	})
	require.Equal(t, "show-lib", gotCommand)
	require.Contains(t, out, "ok")
}

func TestReloadCmdInvokesReloadCommand(t *testing.T) {
	var gotCommand string
	startTestDaemon(t, func(_ context.Context, req control.Request) control.Response {
		gotCommand = req.Command
		return control.Response{OK: true}
	})

	cmd := reloadCmd()
	out := captureStdout(t, func() {
		require.NoError(t, cmd.RunE(cmd, nil))
	})
	require.Equal(t, "reload", gotCommand)
	require.Equal(t, "OK\n", out)
}

func TestFibCoupleCmdPassesPWName(t *testing.T) {
	var gotCommand string
	var gotArgs struct {
		PW string `json:"pw"`
	}
	startTestDaemon(t, func(_ context.Context, req control.Request) control.Response {
		gotCommand = req.Command
		_ = json.Unmarshal(req.Args, &gotArgs)
		return control.Response{OK: true}
	})

	cmd := fibCmd()
	coupleCmd, _, err := cmd.Find([]string{"couple"})
	require.NoError(t, err)
	_ = captureStdout(t, func() {
		require.NoError(t, coupleCmd.RunE(coupleCmd, []string{"pw-a"}))
	})
	require.Equal(t, "fib-couple", gotCommand)
	require.Equal(t, "pw-a", gotArgs.PW)
}

func TestLogVerbosityCmdPassesLevel(t *testing.T) {
	var gotLevel string
	startTestDaemon(t, func(_ context.Context, req control.Request) control.Response {
		var args struct {
			Level string `json:"level"`
		}
		_ = json.Unmarshal(req.Args, &args)
		gotLevel = args.Level
		return control.Response{OK: true}
	})

	cmd := logCmd()
	verbosityCmd, _, err := cmd.Find([]string{"verbosity"})
	require.NoError(t, err)
	_ = captureStdout(t, func() {
		require.NoError(t, verbosityCmd.RunE(verbosityCmd, []string{"debug"}))
	})
	require.Equal(t, "debug", gotLevel)
}

func TestVersionCmdReportsUnreachableDaemon(t *testing.T) {
	socketPath = filepath.Join(t.TempDir(), "missing.sock")
	ctl = control.NewClient(socketPath)

	cmd := versionCmd()
	out := captureStdout(t, func() {
		cmd.Run(cmd, nil)
	})
	require.Contains(t, out, "ldpctl")
	require.Contains(t, out, "daemon: unreachable")
}

func TestVersionCmdPrintsDaemonVersionWhenReachable(t *testing.T) {
	startTestDaemon(t, func(_ context.Context, req control.Request) control.Response {
		data, _ := json.Marshal(map[string]string{"version": "ldpd test"})
		return control.Response{OK: true, Data: data}
	})

	cmd := versionCmd()
	out := captureStdout(t, func() {
		cmd.Run(cmd, nil)
	})
	require.Contains(t, out, "ldpd test")
}

func TestRootCommandRegistersAllSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"show", "reload", "fib", "log", "version"} {
		require.True(t, names[want], "missing subcommand %q", want)
	}
}
