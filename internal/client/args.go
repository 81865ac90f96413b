package client

import (
	"fmt"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// ParseArgs checks that every argument names an existing file or directory.
func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<paths>", Cause: "no files provided"}
	}

	out := make([]ParsedPath, 0, len(args))
	seen := make(map[string]bool, len(args))

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file or directory"}
		}
		if seen[p] {
			return nil, &ValidationError{Arg: raw, Cause: "listed more than once"}
		}
		seen[p] = true

		kind := PathFile
		if info.IsDir() {
			kind = PathDir
		}

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}
