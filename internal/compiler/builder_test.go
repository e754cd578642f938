package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/ccsh/internal/source"
	"github.com/Norgate-AV/ccsh/internal/utils"
)

// mockCommander implements Commander interface for testing
type mockCommander struct {
	runFunc func() error
}

func (m *mockCommander) Run() error {
	return m.runFunc()
}

// exitStatusError mimics *exec.ExitError without running a process
type exitStatusError struct {
	code int
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitStatusError) ExitCode() int {
	return e.code
}

// fakeCompiler writes a shell script standing in for cc. It answers
// --version, logs its arguments to args.log next to itself and writes a
// runnable program to the -o path.
func fakeCompiler(t *testing.T, body string) string {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "fakecc")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "fakecc 1.0"
	exit 0
fi
echo "$@" >> "` + filepath.Join(dir, "args.log") + `"
out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; shift; fi
	shift
done
` + body + `
printf '#!/bin/sh\necho built\n' > "$out"
chmod +x "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func testUnit(t *testing.T) *source.Unit {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hello.c99sh")
	require.NoError(t, os.WriteFile(path, []byte("int main(void){return 0;}\n"), 0o755))

	u, err := source.Load(path)
	require.NoError(t, err)

	return u
}

func TestCommandBuilder_BuildCommand(t *testing.T) {
	unit := &source.Unit{Path: "/scripts/hello.c99sh"}

	tests := []struct {
		name        string
		toolchain   *Toolchain
		job         Job
		wantArgs    []string
		wantErr     bool
		errContains string
	}{
		{
			name:      "script compiled directly",
			toolchain: &Toolchain{Lang: utils.C, Path: "/usr/bin/cc", Flags: []string{"-std=c99", "-O2"}},
			job:       Job{Unit: unit, WorkDir: "/work"},
			wantArgs: []string{
				"-std=c99", "-O2",
				"-o", "/work/a.out",
				"-x", "c", "/scripts/hello.c99sh",
				"-x", "none",
			},
		},
		{
			name:      "entry driver replaces script",
			toolchain: &Toolchain{Lang: utils.C, Path: "/usr/bin/cc"},
			job:       Job{Unit: unit, Driver: "int main(void){}", WorkDir: "/work"},
			wantArgs: []string{
				"-o", "/work/a.out",
				"-x", "c", "/work/hello.c99sh.ccsh-main",
				"-x", "none",
			},
		},
		{
			name:      "c++ with link flags",
			toolchain: &Toolchain{Lang: utils.CXX, Path: "/usr/bin/c++", Flags: []string{"-O2"}, LDFlags: []string{"-lm", "-Wl,--as-needed"}},
			job:       Job{Unit: unit, WorkDir: "/work"},
			wantArgs: []string{
				"-O2",
				"-o", "/work/a.out",
				"-x", "c++", "/scripts/hello.c99sh",
				"-x", "none", "-lm", "-Wl,--as-needed",
			},
		},
		{
			name:        "no compiler",
			toolchain:   nil,
			job:         Job{Unit: unit, WorkDir: "/work"},
			wantErr:     true,
			errContains: "no compiler",
		},
		{
			name:        "no source",
			toolchain:   &Toolchain{Lang: utils.C, Path: "/usr/bin/cc"},
			job:         Job{WorkDir: "/work"},
			wantErr:     true,
			errContains: "no source",
		},
		{
			name:        "no work directory",
			toolchain:   &Toolchain{Lang: utils.C, Path: "/usr/bin/cc"},
			job:         Job{Unit: unit},
			wantErr:     true,
			errContains: "no work directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCommandBuilder(nil)
			cmd, err := cb.BuildCommand(tt.toolchain, tt.job)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.toolchain.Path, cmd.Path)
			assert.Equal(t, tt.wantArgs, cmd.Args)
		})
	}
}

func TestCommandBuilder_ExecuteCommand_Success(t *testing.T) {
	cb := NewCommandBuilder(nil)

	cb.execCommand = func(ctx context.Context, name string, args ...string) Commander {
		return &mockCommander{
			runFunc: func() error {
				return nil
			},
		}
	}

	err := cb.ExecuteCommand(context.Background(), "/usr/bin/cc", []string{"-o", "a.out"})
	assert.NoError(t, err)
}

func TestCommandBuilder_ExecuteCommand_CompileFailure(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantCode int
	}{
		{name: "exit code kept", code: 2, wantCode: 2},
		{name: "signal maps to 1", code: -1, wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCommandBuilder(nil)
			cb.execCommand = func(ctx context.Context, name string, args ...string) Commander {
				return &mockCommander{
					runFunc: func() error {
						return &exitStatusError{code: tt.code}
					},
				}
			}

			err := cb.ExecuteCommand(context.Background(), "/usr/bin/cc", nil)

			var failure *CompileFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.wantCode, failure.ExitCode)
			assert.Equal(t, tt.wantCode, failure.ExitStatus())
		})
	}
}

func TestCommandBuilder_ExecuteCommand_Diagnostics(t *testing.T) {
	cc := fakeCompiler(t, `echo "hello.c:1: error: expected ';'" >&2
exit 3`)

	var stderr bytes.Buffer
	cb := NewCommandBuilder(nil)
	cb.Stderr = &stderr

	err := cb.ExecuteCommand(context.Background(), cc, []string{"-o", filepath.Join(t.TempDir(), "a.out")})

	var failure *CompileFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.ExitCode)
	assert.Equal(t, "hello.c:1: error: expected ';'\n", failure.Diagnostics)
	assert.Empty(t, stderr.String(), "diagnostics of a failed build are left to the caller")
}

func TestCommandBuilder_ExecuteCommand_Warnings(t *testing.T) {
	cc := fakeCompiler(t, `echo "hello.c:3: warning: unused variable" >&2`)

	var stderr bytes.Buffer
	cb := NewCommandBuilder(nil)
	cb.Stderr = &stderr

	err := cb.ExecuteCommand(context.Background(), cc, []string{"-o", filepath.Join(t.TempDir(), "a.out")})
	require.NoError(t, err)
	assert.Equal(t, "hello.c:3: warning: unused variable\n", stderr.String())
}

func TestCommandBuilder_ExecuteCommand_NonExitError(t *testing.T) {
	cb := NewCommandBuilder(nil)

	cb.execCommand = func(ctx context.Context, name string, args ...string) Commander {
		return &mockCommander{
			runFunc: func() error {
				return fmt.Errorf("command not found")
			},
		}
	}

	err := cb.ExecuteCommand(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command not found")

	var failure *CompileFailure
	assert.NotErrorAs(t, err, &failure)
}

func TestCommandBuilder_ExecuteCommand_Cancelled(t *testing.T) {
	cb := NewCommandBuilder(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cb.execCommand = func(ctx context.Context, name string, args ...string) Commander {
		return &mockCommander{
			runFunc: func() error {
				cancel()
				return &exitStatusError{code: -1}
			},
		}
	}

	err := cb.ExecuteCommand(ctx, "/usr/bin/cc", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandBuilder_Build(t *testing.T) {
	cc := fakeCompiler(t, "")
	unit := testUnit(t)
	tc := &Toolchain{Lang: utils.C, Path: cc, Flags: []string{"-O2"}}

	t.Run("script", func(t *testing.T) {
		work := t.TempDir()
		cb := NewCommandBuilder(nil)

		out, err := cb.Build(context.Background(), tc, Job{Unit: unit, WorkDir: work})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(work, "a.out"), out)

		info, err := os.Stat(out)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode().Perm()&0o111)

		logged, err := os.ReadFile(filepath.Join(filepath.Dir(cc), "args.log"))
		require.NoError(t, err)
		assert.Contains(t, string(logged), unit.Path)
	})

	t.Run("driver", func(t *testing.T) {
		work := t.TempDir()
		cb := NewCommandBuilder(nil)

		driver, err := source.Driver(unit, "test()")
		require.NoError(t, err)

		_, err = cb.Build(context.Background(), tc, Job{Unit: unit, Driver: driver, WorkDir: work})
		require.NoError(t, err)

		written, err := os.ReadFile(filepath.Join(work, source.DriverName(unit)))
		require.NoError(t, err)
		assert.Equal(t, driver, string(written))
	})

	t.Run("no output", func(t *testing.T) {
		cb := NewCommandBuilder(nil)
		cb.execCommand = func(ctx context.Context, name string, args ...string) Commander {
			return &mockCommander{runFunc: func() error { return nil }}
		}

		_, err := cb.Build(context.Background(), tc, Job{Unit: unit, WorkDir: t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no executable")
	})
}

func TestShellCommand_String(t *testing.T) {
	cmd := &ShellCommand{Path: "cc", Args: []string{"-o", "a.out", "x.c"}}
	assert.Equal(t, "cc -o a.out x.c", cmd.String())
	assert.True(t, strings.HasPrefix(cmd.String(), "cc "))
}

func TestNewCommandBuilder(t *testing.T) {
	cb := NewCommandBuilder(nil)
	assert.NotNil(t, cb)
	assert.NotNil(t, cb.execCommand)
	assert.Equal(t, os.Stderr, cb.Stderr)
}
