package commands

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(func() []string { return nil })
	cmd.Reader = strings.NewReader(stdin)
	cmd.Writer = &stdout
	cmd.ErrWriter = &stderr

	err := cmd.Run(context.Background(), append([]string{"tokencache"}, args...))
	return stdout.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	global := []string{
		"--storage--kind", "plaintext_file",
		"--storage--unprotected",
		"--storage--cache-dir", t.TempDir(),
		"--lock--poll-interval", "1ms",
	}
	run := func(stdin string, args ...string) string {
		t.Helper()
		out, err := runCLI(t, stdin, append(append([]string{}, global...), args...)...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out
	}

	if out := run("", "verify"); !strings.Contains(out, "persistence available") {
		t.Errorf("verify output = %q", out)
	}

	if out := run("  secret-access\n", "write", "--expires-in", "1h", "work"); !strings.Contains(out, `stored "work"`) {
		t.Errorf("write output = %q", out)
	}

	out := run("", "show")
	if !strings.Contains(out, "work") || !strings.Contains(out, "Bearer") {
		t.Errorf("show output = %q", out)
	}
	if strings.Contains(out, "secret-access") {
		t.Errorf("show leaked the token: %q", out)
	}

	if out := run("", "token", "work"); strings.TrimSpace(out) != "secret-access" {
		t.Errorf("token output = %q", out)
	}

	if out := run("", "show", "--raw"); !strings.Contains(out, "00000000") {
		t.Errorf("show --raw output = %q", out)
	}

	run("", "clear")
	if out := run("", "show"); !strings.Contains(out, "(empty)") {
		t.Errorf("show after clear = %q", out)
	}
}

func TestWriteRejectsEmptyInput(t *testing.T) {
	_, err := runCLI(t, "   \n",
		"--storage--kind", "plaintext_file", "--storage--unprotected", "--storage--cache-dir", t.TempDir(),
		"write")
	if err == nil || !strings.Contains(err.Error(), "must not be empty") {
		t.Errorf("write error = %v", err)
	}
}
