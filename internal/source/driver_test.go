package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEntry(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test()", "test()"},
		{"  test()  ", "test()"},
		{"test();", "test()"},
		{"test() ; ;", "test()"},
		{"printf(\"%d\\n\", logic())", "printf(\"%d\\n\", logic())"},
		{"", ""},
		{" ; ", ""},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, NormalizeEntry(test.input), "NormalizeEntry(%q)", test.input)
	}
}

func TestDriver(t *testing.T) {
	unit := &Unit{Path: "/home/user/scripts/quicktest.c"}

	text, err := Driver(unit, "test();")
	require.NoError(t, err)

	assert.Contains(t, text, "#define main ccsh_script_main\n")
	assert.Contains(t, text, "#include \"/home/user/scripts/quicktest.c\"\n")
	assert.Contains(t, text, "#undef main\n")
	assert.Contains(t, text, "int main(int argc, char *argv[])")
	assert.Contains(t, text, "\ttest();\n")

	// The rename must come before the include and be undone before the new main
	assert.Less(t, strings.Index(text, "#define main"), strings.Index(text, "#include"))
	assert.Less(t, strings.Index(text, "#include"), strings.Index(text, "#undef main"))
	assert.Less(t, strings.Index(text, "#undef main"), strings.Index(text, "int main("))
}

func TestDriver_Errors(t *testing.T) {
	_, err := Driver(&Unit{Path: "/scripts/a.c"}, " ; ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty entry expression")

	_, err = Driver(&Unit{Path: "/scripts/we\"ird.c"}, "test()")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnincludablePath)

	_, err = Driver(&Unit{Path: "/scripts/new\nline.c"}, "test()")
	assert.ErrorIs(t, err, ErrUnincludablePath)
}

func TestDriverName(t *testing.T) {
	assert.Equal(t, "quicktest.cpp.ccsh-main", DriverName(&Unit{Path: "/x/quicktest.cpp"}))
}
