// SPDX-License-Identifier: MPL-2.0

package diffcache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// TableFile is the name of the fingerprint table inside the final build
// directory.
const TableFile = "hotpatch.diff"

// ErrCorruptTable is returned by ParseTable for lines that are not
// "<path>#<fingerprint>".
var ErrCorruptTable = errors.New("corrupt fingerprint table")

// Table maps a source path to its content fingerprint.
type Table map[string]uint64

// ParseTable decodes "<path>#<fingerprint>" lines. The fingerprint follows
// the last '#', so paths may contain the separator. Blank lines are ignored.
func ParseTable(data []byte) (Table, error) {
	table := make(Table)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, '#')
		if idx <= 0 {
			return nil, fmt.Errorf("%w: line %d: missing separator", ErrCorruptTable, lineNo)
		}
		value, err := strconv.ParseUint(line[idx+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrCorruptTable, lineNo, err)
		}
		table[line[:idx]] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptTable, err)
	}
	return table, nil
}

// Encode renders the table as sorted "<path>#<fingerprint>" lines.
func (t Table) Encode() []byte {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('#')
		buf.WriteString(strconv.FormatUint(t[p], 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ReadTable loads the table stored in dir. A missing file yields an empty
// table.
func ReadTable(dir string) (Table, error) {
	data, err := os.ReadFile(filepath.Join(dir, TableFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fingerprint table: %w", err)
	}
	return ParseTable(data)
}

// WriteTable replaces the table stored in dir. The new content is written to
// a temporary file first and renamed over the old one.
func WriteTable(dir string, t Table) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, TableFile+".*")
	if err != nil {
		return fmt.Errorf("write fingerprint table: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(t.Encode()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write fingerprint table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write fingerprint table: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, TableFile)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write fingerprint table: %w", err)
	}
	return nil
}
