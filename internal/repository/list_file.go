package repository

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// TextListSource reads the classic dispatcher list file. Every line holds
//
//	setid destination [flags [priority [attrs]]]
//
// separated by blanks; '#' starts a comment.
type TextListSource struct {
	Path string
}

// NewTextListSource creates a source for the list file at path
func NewTextListSource(path string) *TextListSource {
	return &TextListSource{Path: path}
}

// LoadDestinations reads and parses the file
func (s *TextListSource) LoadDestinations(ctx context.Context) ([]domain.DestinationRow, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list file %s: %w", s.Path, err)
	}
	defer f.Close()

	rows, err := ParseTextList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return rows, nil
}

// ParseTextList parses list lines from r. A malformed line fails the whole
// list.
func ParseTextList(r io.Reader) ([]domain.DestinationRow, error) {
	var rows []domain.DestinationRow
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: missing destination", line)
		}

		row := domain.DestinationRow{URI: fields[1], Line: line}
		group, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad set id %q", line, fields[0])
		}
		row.Group = group

		if len(fields) > 2 {
			flags, err := strconv.ParseUint(fields[2], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad flags %q", line, fields[2])
			}
			row.Flags = domain.DestinationFlags(flags)
		}
		if len(fields) > 3 {
			priority, err := strconv.Atoi(fields[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad priority %q", line, fields[3])
			}
			row.Priority = priority
		}
		if len(fields) > 4 {
			row.Attrs = strings.Join(fields[4:], " ")
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteTextList writes rows in the list file format
func WriteTextList(w io.Writer, rows []domain.DestinationRow) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		fmt.Fprintf(bw, "%d %s %d %d", row.Group, row.URI, uint32(row.Flags), row.Priority)
		if row.Attrs != "" {
			fmt.Fprintf(bw, " %s", row.Attrs)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
