package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
)

// WriteCSV writes one sheet with a header row. Cells are rendered with
// FormatCell.
func WriteCSV(w io.Writer, s Sheet) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(s.Columns))
	for _, row := range s.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatCell(s.Columns[i].Type, row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatCell renders a cell as text. Percentages keep two decimals and no
// percent sign so they parse back as numbers.
func FormatCell(t ColumnType, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case civil.Date:
		if !x.IsValid() {
			return ""
		}
		return x.String()
	case time.Time:
		if t == ColumnDate {
			return civil.DateOf(x).String()
		}
		return x.Format(timeLayout)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if t == ColumnInteger {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
