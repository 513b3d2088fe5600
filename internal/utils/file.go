package utils

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	SolutionExts = []string{".py", ".c", ".cpp"}
	InputExts    = []string{".txt"}
)

// HasExt reports whether name ends in one of exts, ignoring case.
func HasExt(name string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// DecodeSource returns code as bytes, decoding it first when encoding is
// "base64".
func DecodeSource(code, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8", "plain":
		return []byte(code), nil
	case "base64":
		data, err := base64.StdEncoding.DecodeString(code)
		if err != nil {
			return nil, fmt.Errorf("failed to decode the file content: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}
