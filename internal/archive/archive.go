// Package archive builds the minimal tar stream the Docker copy API expects
// when files are injected into a created container.
package archive

import (
	"errors"
	"fmt"
	"time"
)

const (
	blockSize = 512

	nameSize  = 100
	maxSize   = 1<<33 - 1 // 11 octal digits
	chkOffset = 148
	chkSize   = 8
)

var (
	ErrEmptyName   = errors.New("archive: empty file name")
	ErrNameTooLong = errors.New("archive: file name exceeds 100 bytes")
	ErrTooLarge    = errors.New("archive: file exceeds 8 GiB")
)

// File is one regular file entry.
type File struct {
	Name    string
	Mode    int64
	Content []byte
	ModTime time.Time
}

// Build returns a tar stream with one regular-file entry per file followed
// by the two-block end marker.
func Build(files ...File) ([]byte, error) {
	size := 2 * blockSize
	for _, f := range files {
		if err := validate(f); err != nil {
			return nil, err
		}
		size += blockSize + padded(len(f.Content))
	}

	out := make([]byte, 0, size)
	for _, f := range files {
		out = append(out, header(f)...)
		out = append(out, f.Content...)
		out = append(out, make([]byte, padded(len(f.Content))-len(f.Content))...)
	}
	out = append(out, make([]byte, 2*blockSize)...)
	return out, nil
}

// Single is Build for one 0644 file stamped with the current time.
func Single(name string, content []byte) ([]byte, error) {
	return Build(File{Name: name, Content: content, ModTime: time.Now()})
}

func validate(f File) error {
	switch {
	case f.Name == "":
		return ErrEmptyName
	case len(f.Name) > nameSize:
		return fmt.Errorf("%w: %q", ErrNameTooLong, f.Name)
	case int64(len(f.Content)) > maxSize:
		return ErrTooLarge
	}
	return nil
}

func padded(n int) int {
	return (n + blockSize - 1) / blockSize * blockSize
}

func header(f File) []byte {
	h := make([]byte, blockSize)

	mode := f.Mode
	if mode == 0 {
		mode = 0o644
	}
	mtime := f.ModTime.Unix()
	if f.ModTime.IsZero() || mtime < 0 {
		mtime = 0
	}

	copy(h[0:nameSize], f.Name)
	putOctal(h[100:108], mode)
	putOctal(h[108:116], 0)
	putOctal(h[116:124], 0)
	putOctal(h[124:136], int64(len(f.Content)))
	putOctal(h[136:148], mtime)
	h[156] = '0'
	copy(h[257:263], "ustar\x00")
	copy(h[263:265], "00")

	for i := chkOffset; i < chkOffset+chkSize; i++ {
		h[i] = ' '
	}
	copy(h[chkOffset:chkOffset+chkSize], fmt.Sprintf("%06o\x00 ", Checksum(h)))
	return h
}

// putOctal writes v as zero-padded octal filling all but the last byte of
// field, which is left NUL.
func putOctal(field []byte, v int64) {
	copy(field, fmt.Sprintf("%0*o", len(field)-1, v))
	field[len(field)-1] = 0
}

// Checksum is the unsigned byte sum of a header block. The checksum field
// must already hold eight spaces.
func Checksum(h []byte) int64 {
	var sum int64
	for _, b := range h[:blockSize] {
		sum += int64(b)
	}
	return sum
}
