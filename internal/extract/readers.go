package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Rows reads a spreadsheet file into positional rows, header row included.
// The reader is chosen by extension: .csv via encoding/csv, anything else via
// excelize (first sheet). Cells are loosely typed so sources that can report
// a missing cell (nil) stay distinguishable from a present-but-empty one;
// these two readers only ever produce strings.
func Rows(path string) ([][]any, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return csvRows(path)
	}
	return sheetRows(path)
}

func sheetRows(path string) ([][]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", filepath.Base(path))
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return looseRows(rows), nil
}

func csvRows(path string) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // column counts vary between manual exports
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return looseRows(rows), nil
}

func looseRows(rows [][]string) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = c
		}
		out[i] = cells
	}
	return out
}
