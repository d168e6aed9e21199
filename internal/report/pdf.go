package report

import (
	"io"
	"strconv"

	"github.com/go-pdf/fpdf"
)

// PDFEncoder lays the inventory out as a simple grid, landscape A4.
// PDF generation buffers the whole document; prefer CSV/JSON for big vaults.
type PDFEncoder struct {
	pdf *fpdf.Fpdf
	w   io.Writer
}

func NewPDFEncoder(w io.Writer) *PDFEncoder {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 10)
	pdf.AddPage()
	return &PDFEncoder{pdf: pdf, w: w}
}

func (e *PDFEncoder) colWidth() float64 {
	pageWidth, _ := e.pdf.GetPageSize()
	left, _, right, _ := e.pdf.GetMargins()
	return (pageWidth - left - right) / float64(len(columns))
}

func (e *PDFEncoder) Begin() error {
	e.pdf.SetFont("Arial", "B", 10)
	width := e.colWidth()
	for _, col := range columns {
		e.pdf.CellFormat(width, 7, col, "1", 0, "C", false, 0, "")
	}
	e.pdf.Ln(-1)
	e.pdf.SetFont("Arial", "", 10)
	return e.pdf.Error()
}

func (e *PDFEncoder) Write(row Row) error {
	width := e.colWidth()
	cells := []string{
		row.ID,
		row.Name,
		row.ContentType,
		strconv.FormatInt(row.Size, 10),
		row.Backend,
		row.CreatedAt.Format(timeLayout),
	}
	for _, cell := range cells {
		e.pdf.CellFormat(width, 7, cell, "1", 0, "L", false, 0, "")
	}
	e.pdf.Ln(-1)
	return e.pdf.Error()
}

func (e *PDFEncoder) Flush() error {
	return e.pdf.Output(e.w)
}

func (e *PDFEncoder) Close() error {
	return e.pdf.Error()
}
