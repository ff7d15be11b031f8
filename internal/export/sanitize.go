package export

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

const nameSymbols = " -_.,()"

// SanitizeName maps s onto a conservative file-name alphabet: letters, digits
// and nameSymbols pass through, control characters are dropped and anything
// else becomes '_'. A positive maxLen caps the result in runes.
func SanitizeName(s string, maxLen int) string {
	out := strings.TrimSpace(strings.Map(nameRune, s))
	if maxLen <= 0 {
		return out
	}
	if runes := []rune(out); len(runes) > maxLen {
		out = strings.TrimSpace(string(runes[:maxLen]))
	}
	return out
}

func nameRune(r rune) rune {
	switch {
	case unicode.IsControl(r):
		return -1
	case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(nameSymbols, r):
		return r
	}
	return '_'
}

// ValidateOutputDir accepts an existing directory given as a clean path with
// no ".." element.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: required", ErrInvalidOutputDir)
	}
	if slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), "..") {
		return fmt.Errorf("%w: path traversal", ErrInvalidOutputDir)
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: must be a clean path", ErrInvalidOutputDir)
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: does not exist", ErrInvalidOutputDir)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	case !info.IsDir():
		return fmt.Errorf("%w: not a directory", ErrInvalidOutputDir)
	}
	return nil
}
