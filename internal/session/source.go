package session

import (
	"bufio"
	"os"
)

// SourceReader supplies source text for listings. Implementations
// return a nil or empty slice when the file cannot be read.
type SourceReader interface {
	// ReadLines returns the lines surrounding centerLine: up to
	// contextLines before and after, clamped to the file bounds.
	ReadLines(path string, centerLine, contextLines int) []string
}

// FileSourceReader reads source files from disk.
type FileSourceReader struct{}

// NewFileSourceReader returns a reader over the local filesystem.
func NewFileSourceReader() *FileSourceReader {
	return &FileSourceReader{}
}

// ReadLines implements SourceReader.
func (r *FileSourceReader) ReadLines(path string, centerLine, contextLines int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	first := centerLine - contextLines
	if first < 1 {
		first = 1
	}
	last := centerLine + contextLines

	var lines []string
	scanner := bufio.NewScanner(f)
	// Tolerate long generated lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if n > last {
			break
		}
		if n >= first {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil
	}
	return lines
}
