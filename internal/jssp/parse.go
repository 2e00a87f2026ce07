package jssp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Parse reads an instance in the standard text format: a line "n m" followed
// by n lines of machine/duration pairs. Blank lines and lines starting with
// '#' are ignored.
func Parse(r io.Reader) (*Instance, error) {
	var records [][]string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		records = append(records, strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading instance: %w", err)
	}
	return FromRecords(records)
}

// ParseString is Parse over an in-memory instance text.
func ParseString(s string) (*Instance, error) {
	return Parse(strings.NewReader(s))
}

// Load reads an instance file and names it after the file's base name.
func Load(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	inst, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	inst.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return inst, nil
}
