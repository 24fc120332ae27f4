// Package export renders admin data as Excel workbooks.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sakif/proteeti/internal/model"
)

// ContentType is the MIME type of the generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timeLayout = "2006-01-02 15:04:05"

// column is one sheet column: header text and width in characters.
type column struct {
	header string
	width  float64
}

var reportColumns = []column{
	{"ID", 8},
	{"Username", 18},
	{"Category", 16},
	{"Latitude", 12},
	{"Longitude", 12},
	{"Description", 50},
	{"Reported At (UTC)", 20},
}

var alertColumns = []column{
	{"ID", 8},
	{"Username", 18},
	{"Status", 10},
	{"Latitude", 12},
	{"Longitude", 12},
	{"Accuracy (m)", 12},
	{"Map", 45},
	{"Audio", 40},
	{"Raised At (UTC)", 20},
	{"Resolved At (UTC)", 20},
}

// Reports renders hazard reports into a single "Reports" sheet.
func Reports(reports []model.Report) ([]byte, error) {
	rows := make([][]any, len(reports))
	for i, r := range reports {
		rows[i] = []any{
			r.ID,
			r.Username,
			r.Category,
			r.Lat,
			r.Lng,
			r.Description,
			r.CreatedAt.UTC().Format(timeLayout),
		}
	}
	return workbook("Reports", reportColumns, rows)
}

// Alerts renders SOS alerts into a single "SOS Alerts" sheet.
func Alerts(alerts []model.SOSAlert) ([]byte, error) {
	rows := make([][]any, len(alerts))
	for i, a := range alerts {
		resolved := ""
		if a.ResolvedAt != nil {
			resolved = a.ResolvedAt.UTC().Format(timeLayout)
		}
		rows[i] = []any{
			a.ID,
			a.Username,
			string(a.Status),
			a.Lat,
			a.Lng,
			a.Accuracy,
			fmt.Sprintf("https://www.google.com/maps?q=%v,%v", a.Lat, a.Lng),
			a.AudioKey,
			a.CreatedAt.UTC().Format(timeLayout),
			resolved,
		}
	}
	return workbook("SOS Alerts", alertColumns, rows)
}

// Filename is the download name for kind, stamped with the export date.
func Filename(kind string, now time.Time) string {
	return fmt.Sprintf("proteeti-%s-%s.xlsx", kind, now.UTC().Format("20060102"))
}

func workbook(sheet string, cols []column, rows [][]any) (_ []byte, err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("export: closing workbook: %w", cerr)
		}
	}()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("export: creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("export: removing default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E2"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("export: creating header style: %w", err)
	}

	for i, c := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, c.header); err != nil {
			return nil, fmt.Errorf("export: header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("export: header style %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheet, name, name, c.width); err != nil {
			return nil, fmt.Errorf("export: column width %s: %w", name, err)
		}
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("export: row %d: %w", r+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("export: freezing header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("export: writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}
