// Package report exports learner progress as spreadsheet workbooks for
// teacher dashboards.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lit-platform/progression/internal/ledger"
	"github.com/lit-platform/progression/internal/pathway"
	"github.com/lit-platform/progression/internal/recommend"
)

// EnrollmentSource supplies pathway enrollments, implemented by the
// pathway store.
type EnrollmentSource interface {
	ListEnrollments(ctx context.Context, learnerID string) ([]pathway.Enrollment, error)
}

// StatsSource supplies ledger aggregates, implemented by the ledger
// service.
type StatsSource interface {
	Stats(ctx context.Context, learnerID string) (ledger.LearnerStats, error)
}

// MasterySource supplies the mastery profile, implemented by the
// aggregator's store.
type MasterySource interface {
	List(ctx context.Context, learnerID, appCode string) ([]recommend.SkillMastery, error)
}

// Exporter builds progress workbooks.
type Exporter struct {
	enrollments EnrollmentSource
	stats       StatsSource
	mastery     MasterySource
}

// NewExporter wires a progress exporter.
func NewExporter(enrollments EnrollmentSource, stats StatsSource, mastery MasterySource) *Exporter {
	return &Exporter{enrollments: enrollments, stats: stats, mastery: mastery}
}

const (
	sheetPathways = "Pathways"
	sheetMastery  = "Mastery"
	sheetSummary  = "Summary"
)

// WriteLearnerWorkbook writes one learner's progress workbook to w:
// a pathway sheet, a mastery sheet, and a summary sheet.
func (e *Exporter) WriteLearnerWorkbook(ctx context.Context, learnerID, appCode string, w io.Writer) error {
	f, err := e.buildWorkbook(ctx, learnerID, appCode)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) buildWorkbook(ctx context.Context, learnerID, appCode string) (*excelize.File, error) {
	enrollments, err := e.enrollments.ListEnrollments(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	masteryRows, err := e.mastery.List(ctx, learnerID, appCode)
	if err != nil {
		return nil, fmt.Errorf("mastery profile: %w", err)
	}
	stats, err := e.stats.Stats(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("learner stats: %w", err)
	}

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheetPathways)

	if err := writeRow(f, sheetPathways, 1,
		"Pathway", "Status", "Steps completed", "Total steps", "Progress %", "Enrolled", "Completed"); err != nil {
		return nil, err
	}
	for i, en := range enrollments {
		p := en.Progress
		if err := writeRow(f, sheetPathways, i+2,
			p.PathwayID,
			string(p.Status),
			p.StepsCompleted,
			p.TotalSteps,
			p.ProgressPercent,
			formatTime(p.EnrolledAt),
			formatTimePtr(p.CompletedAt),
		); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(sheetMastery); err != nil {
		return nil, fmt.Errorf("add mastery sheet: %w", err)
	}
	if err := writeRow(f, sheetMastery, 1,
		"Skill", "Mastery level", "Proficiency", "Units completed", "Total units"); err != nil {
		return nil, err
	}
	for i, m := range masteryRows {
		if err := writeRow(f, sheetMastery, i+2,
			m.SkillID, m.MasteryLevel, string(m.Proficiency), m.UnitsCompleted, m.TotalUnits); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return nil, fmt.Errorf("add summary sheet: %w", err)
	}
	summary := [][]any{
		{"Learner", learnerID},
		{"Levels attempted", stats.TotalLevels},
		{"Levels completed", stats.LevelsCompleted},
		{"Average best score", stats.AverageBestScore},
		{"Generated", formatTime(time.Now())},
	}
	for i, row := range summary {
		if err := writeRow(f, sheetSummary, i+1, row...); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
