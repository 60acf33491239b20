package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autopunch/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Task History"

// TaskHistory writes an xlsx report of the given tasks into dir and returns
// the file path.
func TaskHistory(tasks []*models.ScheduledTask, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Scheduled At", "Status", "Result", "Latitude", "Longitude", "Created At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle)

	for row, task := range tasks {
		values := []any{
			task.ScheduledAt.Format("2006-01-02 15:04:05"),
			task.Status,
			task.Result,
			task.Lat,
			task.Lng,
			task.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, value)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 22)
	_ = f.SetColWidth(sheetName, "B", "C", 18)
	_ = f.SetColWidth(sheetName, "D", "E", 14)
	_ = f.SetColWidth(sheetName, "F", "F", 22)
	_ = f.DeleteSheet("Sheet1")

	filePath := filepath.Join(dir, fmt.Sprintf("tasks_%s.xlsx", time.Now().Format("2006-01-02_150405")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}
	return filePath, nil
}
