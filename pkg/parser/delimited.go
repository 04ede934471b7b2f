package parser

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

// extraKey holds values beyond the header width.
const extraKey = "__parsed_extra"

func parseDelimited(raw []byte, comma rune) ([]models.Row, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var header []string
	rows := make([]models.Row, 0)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse delimited row")
		}
		if blank(rec) {
			continue
		}
		if header == nil {
			header = make([]string, len(rec))
			for i, h := range rec {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}

		row := make(models.Row, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = v
				continue
			}
			extra, _ := row[extraKey].([]interface{})
			row[extraKey] = append(extra, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// blank reports whether a record holds nothing but whitespace, which covers
// empty lines and lines made only of delimiters.
func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
