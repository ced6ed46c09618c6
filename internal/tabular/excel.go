package tabular

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Sheet holds the raw cell rows of one worksheet.
type Sheet struct {
	Name string
	Rows [][]string
}

// ReadWorkbook reads every worksheet of an .xlsx file as raw rows, in
// workbook order. Header detection is the caller's concern because payroll
// exports often carry title rows above the real header.
func ReadWorkbook(path string) ([]Sheet, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer book.Close()

	var sheets []Sheet
	for _, name := range book.GetSheetList() {
		rows, err := book.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		sheets = append(sheets, Sheet{Name: name, Rows: rows})
	}
	return sheets, nil
}
