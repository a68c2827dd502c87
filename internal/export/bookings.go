package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"arbiter/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var headers = []string{"ID", "Room", "Title", "User", "Start", "End", "Status", "Version", "Created"}

// statusFill colors the status column.
var statusFill = map[models.BookingStatus]string{
	models.StatusPending:   "#FFEB9C",
	models.StatusConfirmed: "#C6EFCE",
	models.StatusRejected:  "#FFC7CE",
}

type Exporter struct {
	path   string
	logger *zerolog.Logger
}

func NewExporter(path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{path: path, logger: logger}
}

// Save writes the report into the export directory and returns the file path.
func (e *Exporter) Save(rooms []*models.Room, bookings []*models.Booking, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	out, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer out.Close()

	if err := BookingsXLSX(out, rooms, bookings, from, to); err != nil {
		return "", err
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("Excel file created")
	return filePath, nil
}

// BookingsXLSX renders bookings of [from, to) as a single-sheet workbook.
// Rows keep the order of bookings.
func BookingsXLSX(w io.Writer, rooms []*models.Room, bookings []*models.Booking, from, to time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(headers))

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s",
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	if style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err == nil {
		_ = f.SetCellStyle(sheetName, "A1", "A1", style)
	}

	if err := writeHeaders(f); err != nil {
		return err
	}

	roomNames := make(map[int64]string, len(rooms))
	for _, room := range rooms {
		roomNames[room.ID] = room.Name
	}

	styles := make(map[models.BookingStatus]int, len(statusFill))
	for status, color := range statusFill {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("create style: %w", err)
		}
		styles[status] = style
	}

	for i, b := range bookings {
		row := i + 3
		room := roomNames[b.RoomID]
		if room == "" {
			room = fmt.Sprintf("#%d", b.RoomID)
		}

		values := []any{
			b.ID,
			room,
			b.Title,
			b.UserID,
			b.StartTime.UTC().Format("2006-01-02 15:04"),
			b.EndTime.UTC().Format("2006-01-02 15:04"),
			b.Status.String(),
			b.Version,
			b.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}

		if style, ok := styles[b.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(7, row)
			_ = f.SetCellStyle(sheetName, statusCell, statusCell, style)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "B", 20)
	_ = f.SetColWidth(sheetName, "C", "C", 35)
	_ = f.SetColWidth(sheetName, "D", "D", 10)
	_ = f.SetColWidth(sheetName, "E", "F", 18)
	_ = f.SetColWidth(sheetName, "G", "H", 12)
	_ = f.SetColWidth(sheetName, "I", "I", 18)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeaders(f *excelize.File) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
	return nil
}
