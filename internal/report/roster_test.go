package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"qrattendance/internal/attendance"
)

func strPtr(s string) *string    { return &s }
func f64Ptr(v float64) *float64 { return &v }

func TestWriteRoster(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d := attendance.SessionDetail{
		Session: attendance.Session{
			ID:        "0b8a5f7e-4c1d-4b7a-9a61-3f2d7c9e1a22",
			SubjectID: "subject-1",
			StartTime: start,
			EndTime:   start.Add(5 * time.Minute),
		},
		StudentsPresent: []attendance.PresentStudent{
			{
				Record: attendance.Record{StudentID: "st-1", MarkedAt: start.Add(time.Minute),
					LocationLat: f64Ptr(12.97165), LocationLng: f64Ptr(77.59465), LocationAccuracy: f64Ptr(8)},
				StudentName: strPtr("Ada"),
				RollNumber:  strPtr("CS-01"),
			},
			{Record: attendance.Record{StudentID: "st-2", MarkedAt: start.Add(2 * time.Minute)}},
		},
		TotalPresent: 2,
	}

	var buf bytes.Buffer
	if err := WriteRoster(&buf, d, nil); err != nil {
		t.Fatalf("WriteRoster returned error: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows returned error: %v", err)
	}
	// 5 meta rows, a blank row, the header and two students.
	if len(rows) != 9 {
		t.Fatalf("expected 9 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][1] != d.ID || rows[1][1] != "subject-1" || rows[4][1] != "2" {
		t.Fatalf("unexpected meta rows %v", rows[:5])
	}
	if rows[6][1] != "Student ID" {
		t.Fatalf("expected header row, got %v", rows[6])
	}
	if rows[7][1] != "st-1" || rows[7][2] != "Ada" || rows[7][4] != "2026-03-02 09:01:00" {
		t.Fatalf("unexpected first student row %v", rows[7])
	}
	if rows[8][1] != "st-2" || rows[8][2] != "" {
		t.Fatalf("unexpected second student row %v", rows[8])
	}
}

func TestWriteRosterNamesKnownSubject(t *testing.T) {
	d := attendance.SessionDetail{
		Session:      attendance.Session{ID: "s1", SubjectID: "subject-1", StartTime: time.Now(), EndTime: time.Now()},
		SubjectLabel: attendance.SubjectLabel{SubjectName: strPtr("Distributed Systems"), SubjectCode: strPtr("CS401")},
	}
	var buf bytes.Buffer
	if err := WriteRoster(&buf, d, nil); err != nil {
		t.Fatalf("WriteRoster returned error: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()

	got, err := f.GetCellValue(SheetName, "B2")
	if err != nil {
		t.Fatalf("GetCellValue returned error: %v", err)
	}
	if got != "CS401 Distributed Systems" {
		t.Fatalf("expected subject code and name, got %q", got)
	}
}

func TestFilename(t *testing.T) {
	d := attendance.SessionDetail{Session: attendance.Session{
		ID:        "0b8a5f7e-4c1d-4b7a-9a61-3f2d7c9e1a22",
		StartTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}}
	if got := Filename(d); got != "attendance-20260302-0900-0b8a5f7e.xlsx" {
		t.Fatalf("unexpected filename %q", got)
	}
}
