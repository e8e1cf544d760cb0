package export

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteCSV writes a header row and one row per record.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(r.Values()); err != nil {
			return eris.Wrapf(err, "export: write csv row for customer %d", r.CustomerID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteCSVFile writes records to a CSV file at path.
func WriteCSVFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv file")
	}
	if err := WriteCSV(f, records); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "export: close csv file")
}

// SheetName is the worksheet records are written to.
const SheetName = "customers"

// WriteXLSXFile writes records to a single-sheet workbook at path.
func WriteXLSXFile(path string, records []Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}

	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetInt64(r.CustomerID)
		for _, v := range r.Values()[1:] {
			row.AddCell().SetString(v)
		}
	}

	return eris.Wrap(f.Save(path), "export: save xlsx")
}
