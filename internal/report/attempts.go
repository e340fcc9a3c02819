// Package report exports exam attempts as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/cab-academy/internal/lms"
)

const (
	attemptsSheet = "Attempts"
	summarySheet  = "Summary"
)

var attemptHeader = []any{"Attempt", "User", "Name", "Email", "Course", "Exam", "Score", "Pass", "Submitted"}

var summaryHeader = []any{"Course", "Attempts", "Passed", "Pass rate", "Average score"}

// CourseSummary aggregates attempts of one course.
type CourseSummary struct {
	CourseID string
	Attempts int
	Passed   int
	Average  float64
}

// PassRate returns the passed share of attempts in [0,1].
func (s CourseSummary) PassRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Attempts)
}

// Summarize groups attempts by course, sorted by course id.
func Summarize(attempts []lms.Attempt) []CourseSummary {
	byCourse := make(map[string]*CourseSummary)
	totals := make(map[string]int)
	for _, a := range attempts {
		s, ok := byCourse[a.CourseID]
		if !ok {
			s = &CourseSummary{CourseID: a.CourseID}
			byCourse[a.CourseID] = s
		}
		s.Attempts++
		if a.Pass {
			s.Passed++
		}
		totals[a.CourseID] += a.Score
	}

	out := make([]CourseSummary, 0, len(byCourse))
	for id, s := range byCourse {
		s.Average = float64(totals[id]) / float64(s.Attempts)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out
}

// WriteAttempts writes an Attempts sheet with one row per attempt and a
// Summary sheet per course. users supplies names and emails when known.
func WriteAttempts(w io.Writer, attempts []lms.Attempt, users map[string]lms.UserProfile) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", attemptsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeRow(f, attemptsSheet, 1, attemptHeader); err != nil {
		return err
	}
	for i, a := range attempts {
		u := users[a.UserID]
		row := []any{a.ID, a.UserID, u.Name, u.Email, a.CourseID, a.ExamID, a.Score, a.Pass, a.Timestamp.UTC().Format(time.RFC3339)}
		if err := writeRow(f, attemptsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, summarySheet, 1, summaryHeader); err != nil {
		return err
	}
	for i, s := range Summarize(attempts) {
		row := []any{s.CourseID, s.Attempts, s.Passed, round2(s.PassRate()), round2(s.Average)}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return err
		}
	}

	for _, sheet := range []string{attemptsSheet, summarySheet} {
		if err := f.SetCellStyle(sheet, "A1", "I1", bold); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", "F", 24); err != nil {
			return fmt.Errorf("set width: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
