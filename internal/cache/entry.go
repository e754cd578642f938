package cache

import "time"

// Entry represents a published executable
type Entry struct {
	// Key is the build key the executable was built for
	Key string `json:"key" yaml:"key"`

	// Path is the executable's location in the cache
	Path string `json:"path" yaml:"path"`

	// Script is the absolute path of the script the entry was first built from.
	// Other scripts with identical content share the entry.
	Script string `json:"script" yaml:"script"`

	// Lang is the language the script was compiled as
	Lang string `json:"lang" yaml:"lang"`

	// Compiler is the resolved compiler executable
	Compiler string `json:"compiler" yaml:"compiler"`

	// CompilerVersion is the compiler identity that went into the key
	CompilerVersion string `json:"compiler_version" yaml:"compiler_version"`

	// Flags are the compiler and linker flags used
	Flags []string `json:"flags,omitempty" yaml:"flags,omitempty"`

	// Entry is the entry-point override, empty for main
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`

	// Created is when the entry was published
	Created time.Time `json:"created" yaml:"created"`

	// Size of the executable in bytes
	Size int64 `json:"size" yaml:"size"`
}

// Stats summarises the cache contents
type Stats struct {
	// Entries is the number of indexed entries
	Entries int `json:"entries" yaml:"entries"`

	// Executables is the number of published executables on disk
	Executables int `json:"executables" yaml:"executables"`

	// Size is the total size of published executables in bytes
	Size int64 `json:"size" yaml:"size"`
}
