package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// excelRowLimit is the hard xlsx ceiling (1,048,576 rows per sheet).
const excelRowLimit = 1048576

// ExcelEncoder writes the inventory as an .xlsx workbook via the excelize
// stream writer, so even very large vaults never hold the full sheet in
// memory.
type ExcelEncoder struct {
	f      *excelize.File
	sw     *excelize.StreamWriter
	w      io.Writer
	rowIdx int
	err    error
}

func NewExcelEncoder(w io.Writer) *ExcelEncoder {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		return &ExcelEncoder{err: err}
	}
	return &ExcelEncoder{f: f, sw: sw, w: w, rowIdx: 1}
}

func (e *ExcelEncoder) setRow(cells []interface{}) error {
	if e.err != nil {
		return e.err
	}
	if e.rowIdx > excelRowLimit {
		e.err = fmt.Errorf("excel row limit exceeded (%d rows)", excelRowLimit)
		return e.err
	}

	cell, err := excelize.CoordinatesToCellName(1, e.rowIdx)
	if err != nil {
		e.err = err
		return err
	}
	if err := e.sw.SetRow(cell, cells); err != nil {
		e.err = err
		return err
	}
	e.rowIdx++
	return nil
}

func (e *ExcelEncoder) Begin() error {
	cells := make([]interface{}, len(columns))
	for i, col := range columns {
		cells[i] = col
	}
	return e.setRow(cells)
}

func (e *ExcelEncoder) Write(row Row) error {
	return e.setRow([]interface{}{
		row.ID,
		sanitizeCell(row.Name),
		row.ContentType,
		row.Size,
		row.Backend,
		row.CreatedAt.Format(timeLayout),
	})
}

func (e *ExcelEncoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if err := e.sw.Flush(); err != nil {
		e.err = err
		return err
	}
	return e.f.Write(e.w)
}

func (e *ExcelEncoder) Close() error {
	if e.f != nil {
		_ = e.f.Close()
	}
	return e.err
}
