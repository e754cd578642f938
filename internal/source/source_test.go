package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shebangScript = `#if 0
exec ccsh "$0" "$@"
#endif

#include <stdio.h>

int main(int argc, char *argv[])
{
    for (int i = 1; i < argc; ++i) {
        puts(argv[i]);
    }

    return 0;
}
`

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))

	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "shebang.c", shebangScript)

	unit, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, unit.Path)
	assert.Equal(t, dir, unit.Dir())
	assert.Equal(t, "shebang.c", unit.Name())
	// The shell preamble is kept verbatim
	assert.Equal(t, []byte(shebangScript), unit.Source)
}

func TestLoad_RelativePath(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "rel.c", "int main(void) { return 0; }\n")
	t.Chdir(dir)

	unit, err := Load("rel.c")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(unit.Path))
	assert.Equal(t, "rel.c", unit.Name())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.c"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorIs(t, err, ErrNoScript)

	_, err = Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoScript)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestFingerprint_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "shebang.c", shebangScript)

	in := KeyInput{
		Lang:            "c",
		CompilerVersion: "cc (GCC) 14.2.0",
		Flags:           []string{"-std=c99", "-O2"},
		LDFlags:         []string{"-lm"},
	}

	unit, err := Load(path)
	require.NoError(t, err)
	key1 := Fingerprint(unit, in)
	assert.Len(t, key1.String(), 64)

	// Same bytes, different location and mtime
	otherDir := t.TempDir()
	otherPath := writeScript(t, otherDir, "renamed.c", shebangScript)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(otherPath, later, later))

	other, err := Load(otherPath)
	require.NoError(t, err)
	assert.Equal(t, key1, Fingerprint(other, in))

	// Trailing semicolons in the entry do not matter
	withEntry := in
	withEntry.Entry = "test()"
	withSemicolon := in
	withSemicolon.Entry = " test(); "
	assert.Equal(t, Fingerprint(unit, withEntry), Fingerprint(unit, withSemicolon))
}

func TestFingerprint_Sensitivity(t *testing.T) {
	unit := &Unit{Path: "/scripts/a.c", Source: []byte(shebangScript)}
	base := KeyInput{
		Lang:            "c",
		CompilerVersion: "cc (GCC) 14.2.0",
		Flags:           []string{"-std=c99", "-O2"},
		LDFlags:         []string{"-lm"},
	}
	baseKey := Fingerprint(unit, base)

	tests := []struct {
		name   string
		unit   *Unit
		mutate func(in *KeyInput)
	}{
		{
			name: "one source byte",
			unit: &Unit{Path: unit.Path, Source: []byte(shebangScript[:len(shebangScript)-2] + "}\n\n")},
		},
		{
			name:   "language",
			mutate: func(in *KeyInput) { in.Lang = "c++" },
		},
		{
			name:   "compiler version",
			mutate: func(in *KeyInput) { in.CompilerVersion = "cc (GCC) 14.2.1" },
		},
		{
			name:   "one flag",
			mutate: func(in *KeyInput) { in.Flags = []string{"-std=c99", "-O3"} },
		},
		{
			name:   "flag order",
			mutate: func(in *KeyInput) { in.Flags = []string{"-O2", "-std=c99"} },
		},
		{
			name:   "extra flag",
			mutate: func(in *KeyInput) { in.Flags = append([]string{}, "-std=c99", "-O2", "-g") },
		},
		{
			name:   "flag moved to linker",
			mutate: func(in *KeyInput) { in.Flags = []string{"-std=c99"}; in.LDFlags = []string{"-O2", "-lm"} },
		},
		{
			name:   "flag split",
			mutate: func(in *KeyInput) { in.Flags = []string{"-std=c99-O2"} },
		},
		{
			name:   "entry override",
			mutate: func(in *KeyInput) { in.Entry = "test()" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := unit
			if tt.unit != nil {
				u = tt.unit
			}

			in := base
			in.Flags = append([]string(nil), base.Flags...)
			in.LDFlags = append([]string(nil), base.LDFlags...)
			if tt.mutate != nil {
				tt.mutate(&in)
			}

			assert.NotEqual(t, baseKey, Fingerprint(u, in))
		})
	}

	// Different entries differ from each other too
	a, b := base, base
	a.Entry = "test()"
	b.Entry = "other()"
	assert.NotEqual(t, Fingerprint(unit, a), Fingerprint(unit, b))
}

func TestKey_Short(t *testing.T) {
	assert.Equal(t, "0123456789ab", Key("0123456789abcdef").Short())
	assert.Equal(t, "abc", Key("abc").Short())
}
