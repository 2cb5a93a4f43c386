package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"qrattendance/internal/attendance"
)

// SheetName is the single sheet of a roster workbook.
const SheetName = "Attendance"

var header = []any{"#", "Student ID", "Name", "Roll Number", "Marked At", "Latitude", "Longitude", "Accuracy (m)"}

// WriteRoster writes the present students of a session as an xlsx workbook.
// Times are rendered in loc, or UTC when loc is nil.
func WriteRoster(w io.Writer, d attendance.SessionDetail, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	meta := [][]any{
		{"Session", d.ID},
		{"Subject", subjectTitle(d)},
		{"Start", d.StartTime.In(loc).Format(time.DateTime)},
		{"End", d.EndTime.In(loc).Format(time.DateTime)},
		{"Present", d.TotalPresent},
	}
	row := 1
	for _, m := range meta {
		if err := setRow(f, row, m); err != nil {
			return err
		}
		row++
	}
	row++

	if err := setRow(f, row, header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetName, row, row, bold); err != nil {
		return err
	}
	row++

	for i, p := range d.StudentsPresent {
		values := []any{
			i + 1,
			p.StudentID,
			deref(p.StudentName),
			deref(p.RollNumber),
			p.MarkedAt.In(loc).Format(time.DateTime),
			optional(p.LocationLat),
			optional(p.LocationLng),
			optional(p.LocationAccuracy),
		}
		if err := setRow(f, row, values); err != nil {
			return err
		}
		row++
	}

	if err := f.SetColWidth(SheetName, "B", "B", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "C", "E", 20); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// Filename suggests a download name for a session roster.
func Filename(d attendance.SessionDetail) string {
	return fmt.Sprintf("attendance-%s-%s.xlsx", d.StartTime.UTC().Format("20060102-1504"), shortID(d.ID))
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(SheetName, cell, &values)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// subjectTitle is "CODE Name" when the subject is known, else its id.
func subjectTitle(d attendance.SessionDetail) string {
	if d.SubjectCode == nil || d.SubjectName == nil {
		return d.SubjectID
	}
	return *d.SubjectCode + " " + *d.SubjectName
}
