package compiler

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Norgate-AV/ccsh/internal/config"
	"github.com/Norgate-AV/ccsh/internal/source"
	"github.com/Norgate-AV/ccsh/internal/utils"
)

// versionTimeout bounds the compiler --version probe
const versionTimeout = 10 * time.Second

// ErrToolchainNotFound is returned when the compiler executable cannot be found
var ErrToolchainNotFound = errors.New("compiler not found")

// Toolchain is a resolved compiler plus the flags it is run with
type Toolchain struct {
	// Lang is the language scripts are compiled as
	Lang utils.Lang

	// Path is the compiler executable
	Path string

	// Version identifies the compiler in build keys
	Version string

	// Flags go before the source, LDFlags after it
	Flags   []string
	LDFlags []string
}

// Resolve finds the configured compiler and probes its identity
func Resolve(ctx context.Context, cfg *config.Config) (*Toolchain, error) {
	name := cfg.Compiler()

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolchainNotFound, name, err)
	}

	version, err := Identify(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Toolchain{
		Lang:    cfg.Lang,
		Path:    path,
		Version: version,
		Flags:   cfg.CompilerFlags(),
		LDFlags: append([]string(nil), cfg.LDFlags...),
	}, nil
}

// KeyInput returns the build configuration that goes into a build key
func (tc *Toolchain) KeyInput(entry string) source.KeyInput {
	return source.KeyInput{
		Lang:            string(tc.Lang),
		CompilerVersion: tc.Version,
		Flags:           tc.Flags,
		LDFlags:         tc.LDFlags,
		Entry:           entry,
	}
}

// Identify returns a string identifying the compiler at path: the first line
// of its --version output, or a hash of the executable for compilers that do
// not understand --version
func Identify(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err == nil {
		if line := firstLine(out); line != "" {
			return line, nil
		}
	}

	hash, err := HashFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to identify compiler %s: %w", path, err)
	}

	return "sha256:" + hash, nil
}

func firstLine(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}

	return ""
}

// HashFile creates a hash of a file's content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
