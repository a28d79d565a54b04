package main

import (
	"io"
	"os"
)

// readContentFlag reads path's contents, treating "-" as stdin. Used by
// the skills/presets commands that accept a file argument for a
// markdown body or packaged archive.
func readContentFlag(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
