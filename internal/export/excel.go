package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mlcopy/internal/domain"
	"mlcopy/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const jobsSheet = "Jobs"

// Exporter writes job history spreadsheets for operators.
type Exporter struct {
	path   string
	ledger domain.Ledger
	logger *zerolog.Logger
}

func NewExporter(path string, ledger domain.Ledger, logger *zerolog.Logger) *Exporter {
	return &Exporter{path: path, ledger: ledger, logger: logger}
}

// ExportJobs writes the given jobs and their target rows to an xlsx file
// and returns its path.
func (e *Exporter) ExportJobs(ctx context.Context, jobs []models.ReplicationJob) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(jobsSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Job ID", "Kind", "Mode", "Source Account", "Source Item",
		"Status", "Target Account", "Target Item", "Target Status",
		"Produced Item", "Error Kind", "Last Error", "Attempts", "Updated",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobsSheet, cell, header)
		_ = f.SetCellStyle(jobsSheet, cell, cell, headerStyle)
	}

	row := 2
	for _, job := range jobs {
		targets, err := e.ledger.GetJobTargets(ctx, job.ID)
		if err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Error loading targets for export")
			continue
		}

		if len(targets) == 0 {
			e.writeRow(f, row, job, nil)
			row++
			continue
		}
		for i := range targets {
			e.writeRow(f, row, job, &targets[i])
			row++
		}
	}

	widths := []float64{38, 14, 10, 16, 16, 12, 16, 16, 20, 16, 14, 40, 10, 20}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(jobsSheet, col, col, w)
	}

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("jobs_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("jobs", len(jobs)).Msg("Jobs export created")
	return filePath, nil
}

func (e *Exporter) writeRow(f *excelize.File, row int, job models.ReplicationJob, target *models.TargetOutcome) {
	values := []any{
		job.ID, job.Kind, job.Mode, job.SourceAccount, job.SourceItemID, job.Status,
	}
	if target != nil {
		values = append(values,
			target.Account, target.ItemID, target.Status,
			target.ProducedID, target.ErrorKind, target.LastError,
			target.Attempts, target.UpdatedAt.Format("02.01.2006 15:04"),
		)
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(jobsSheet, cell, v)
	}
}
