package utils

import (
	"path/filepath"
	"strings"
)

// Lang is the source language a script is compiled as
type Lang string

const (
	C   Lang = "c"
	CXX Lang = "c++"
)

// ParseLang parses a language name as accepted by --lang and the config file
func ParseLang(s string) (Lang, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "c89", "c90", "c99", "c11", "c17", "c23":
		return C, true
	case "c++", "cxx", "cpp", "cc":
		return CXX, true
	}

	return "", false
}

// LangFromProgram infers the language from the name the launcher was invoked as.
// c99sh runs C, cxxsh and c++sh run C++. Anything else is undecided.
func LangFromProgram(argv0 string) Lang {
	name := strings.TrimSuffix(filepath.Base(argv0), ".exe")

	switch name {
	case "c99sh", "csh99", "ccsh-c":
		return C
	case "cxxsh", "c++sh", "cppsh", "ccsh-c++":
		return CXX
	}

	return ""
}

// LangFromExt infers the language from a script's file extension
func LangFromExt(path string) Lang {
	ext := filepath.Ext(path)

	// .C is C++ by gcc convention, so check before lowering
	if ext == ".C" {
		return CXX
	}

	switch strings.ToLower(ext) {
	case ".c", ".h":
		return C
	case ".cc", ".cp", ".cpp", ".cxx", ".c++", ".hpp", ".hh", ".hxx":
		return CXX
	}

	return ""
}

// DetectLang picks a language for a script when none was requested explicitly.
// The program name wins over the extension; C is the fallback.
func DetectLang(argv0, script string) Lang {
	if l := LangFromProgram(argv0); l != "" {
		return l
	}

	if l := LangFromExt(script); l != "" {
		return l
	}

	return C
}

// CompilerLang returns the name the toolchain's -x option expects
func (l Lang) CompilerLang() string {
	if l == CXX {
		return "c++"
	}

	return "c"
}
