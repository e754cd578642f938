// Package source loads scripts and derives their build keys.
//
// A script is handed to the compiler byte for byte. The shell preamble of a
// dual-shebang script sits inside "#if 0 ... #endif", so the preprocessor
// discards it and nothing here needs to understand shell syntax.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoScript is returned when the script cannot be read
var ErrNoScript = errors.New("cannot read script")

// Unit is a script loaded for compilation
type Unit struct {
	// Path is the absolute path of the script
	Path string

	// Source is the script's content, unmodified
	Source []byte
}

// Load reads the script at path
func Load(path string) (*Unit, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoScript, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNoScript, path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoScript, err)
	}

	return &Unit{
		Path:   abs,
		Source: data,
	}, nil
}

// Dir returns the directory holding the script, searched for quoted includes
func (u *Unit) Dir() string {
	return filepath.Dir(u.Path)
}

// Name returns the script's base name
func (u *Unit) Name() string {
	return filepath.Base(u.Path)
}
