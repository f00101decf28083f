// Package text loads the string table shown by the DrawString opcode.
package text

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/zurustar/ootw/pkg/fileutil"
	"golang.org/x/text/encoding/charmap"
)

// FileName is the string table in the data directory.
const FileName = "strings.txt"

// Table maps string ids to their text. Lines are separated by '\n'.
type Table map[int]string

// Lookup returns the string with the given id.
func (t Table) Lookup(id int) (string, bool) {
	s, ok := t[id]
	return s, ok
}

// Parse reads a string table. Each line has the form
//
//	0x123: some text\nsecond line
//
// where the id is hexadecimal and a literal backslash-n marks a line break.
// The file is Latin-1 encoded; accented characters of the French strings
// are decoded to UTF-8. Empty lines are skipped.
func Parse(r io.Reader) (Table, error) {
	t := Table{}
	sc := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(r))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, s, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", FileName, n, err)
		}
		t[id] = s
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	return t, nil
}

func parseLine(line string) (int, string, error) {
	key, s, ok := strings.Cut(line, ":")
	if !ok || !strings.HasPrefix(key, "0x") {
		return 0, "", fmt.Errorf("malformed line %q", line)
	}
	id, err := strconv.ParseUint(key[2:], 16, 16)
	if err != nil {
		return 0, "", fmt.Errorf("malformed string id %q: %w", key, err)
	}
	s = strings.TrimPrefix(s, " ")
	return int(id), strings.ReplaceAll(s, `\n`, "\n"), nil
}

// Load reads the string table of a data directory. A missing file yields an
// empty table and an error matching fs.ErrNotExist, so callers can choose to
// run without text.
func Load(fsys fileutil.FileSystem) (Table, error) {
	f, err := fsys.Open(FileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Table{}, err
		}
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
