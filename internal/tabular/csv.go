package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a headered CSV file into a frame. A leading UTF-8 BOM is
// stripped so files exported from Excel load cleanly.
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	frame, err := ReadCSVFrom(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv %s: %w", path, err)
	}
	return frame, nil
}

// ReadCSVFrom reads headered CSV data from r.
func ReadCSVFrom(r io.Reader) (*Frame, error) {
	br := bufio.NewReader(r)
	if peeked, err := br.Peek(len(utf8BOM)); err == nil && string(peeked) == string(utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, err
		}
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	return FrameFromRecords(records), nil
}

// FrameFromRecords builds a frame from raw rows where the first row is the
// header. Columns with an empty header name are dropped together with their
// cells. Short rows pad with empty cells, long rows truncate.
func FrameFromRecords(records [][]string) *Frame {
	if len(records) == 0 {
		return New(nil)
	}

	header := records[0]
	keep := make([]int, 0, len(header))
	columns := make([]string, 0, len(header))
	for i, name := range header {
		if isMissing(name) {
			continue
		}
		keep = append(keep, i)
		columns = append(columns, name)
	}

	frame := New(columns)
	for _, record := range records[1:] {
		row := make(Row, len(columns))
		for pos, i := range keep {
			if i < len(record) {
				row[columns[pos]] = record[i]
			} else {
				row[columns[pos]] = ""
			}
		}
		frame.AppendRow(row)
	}
	return frame
}

// WriteCSV writes the frame to path with a UTF-8 BOM so Excel opens the
// Japanese headers correctly. Parent directories are created as needed.
func (f *Frame) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(f.Columns); err != nil {
		return err
	}
	for _, row := range f.Rows {
		record := make([]string, len(f.Columns))
		for i, col := range f.Columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}
