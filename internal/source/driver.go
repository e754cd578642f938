package source

import (
	"errors"
	"fmt"
	"strings"
)

// driverPathPlaceholder stands in for the script path when the driver text is
// hashed, keeping keys independent of where the script lives
const driverPathPlaceholder = "@SCRIPT@"

// driverSuffix is appended to the script name to name the driver unit
const driverSuffix = ".ccsh-main"

// The script is included rather than compiled separately so that static test
// functions stay reachable. Its own main is renamed out of the way.
const driverTemplate = `/* entry driver generated by ccsh */
#define main ccsh_script_main
#include "%s"
#undef main

int main(int argc, char *argv[])
{
	(void)argc;
	(void)argv;
	%s;
	return 0;
}
`

// ErrUnincludablePath is returned when a script path cannot be spelled in an
// #include directive
var ErrUnincludablePath = errors.New("script path cannot be included by the entry driver")

// NormalizeEntry trims whitespace and trailing semicolons from an entry
// expression. An empty result means no override.
func NormalizeEntry(entry string) string {
	entry = strings.TrimSpace(entry)
	for strings.HasSuffix(entry, ";") {
		entry = strings.TrimSpace(strings.TrimSuffix(entry, ";"))
	}

	return entry
}

// Driver returns the text of the driver unit that runs entry instead of the
// script's main. The expression is substituted verbatim; an expression that
// does not compile is reported by the compiler like any other error.
func Driver(u *Unit, entry string) (string, error) {
	entry = NormalizeEntry(entry)
	if entry == "" {
		return "", fmt.Errorf("empty entry expression")
	}

	if strings.ContainsAny(u.Path, "\"\n\r") {
		return "", fmt.Errorf("%w: %q", ErrUnincludablePath, u.Path)
	}

	return renderDriver(u.Path, entry), nil
}

// DriverName returns the file name the driver unit is written under
func DriverName(u *Unit) string {
	return u.Name() + driverSuffix
}

func renderDriver(path, entry string) string {
	return fmt.Sprintf(driverTemplate, path, entry)
}
