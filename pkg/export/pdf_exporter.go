package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CriterionRow is one graded criterion line in a report.
type CriterionRow struct {
	Description string
	Skill       string
	Value       *float64
	MaxPoints   float64
}

// SkillRow is one per-skill aggregate line in a report.
type SkillRow struct {
	Skill      string
	Current    float64
	Max        float64
	Percentage float64
}

// EvaluationReport carries everything the PDF renderer needs.
type EvaluationReport struct {
	Title       string
	StudentName string
	TeacherName string
	Status      string
	EvalDate    time.Time
	Criteria    []CriterionRow
	Skills      []SkillRow
	Total       float64
	Max         float64
	Percentage  float64
	Comments    []string
}

// PDFExporter renders evaluation reports as PDF documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a one-page PDF report for a graded evaluation.
func (e *PDFExporter) Render(report EvaluationReport) ([]byte, error) {
	if report.Title == "" {
		return nil, fmt.Errorf("pdf requires an evaluation title")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, report.Title, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Student: %s", report.StudentName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Teacher: %s", report.TeacherName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s    Status: %s", report.EvalDate.Format("2006-01-02"), report.Status), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(90, 8, "Criterion", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 8, "Skill", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 8, "Grade", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 8, "Max", "1", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, row := range report.Criteria {
		value := "-"
		if row.Value != nil {
			value = fmt.Sprintf("%g", *row.Value)
		}
		pdf.CellFormat(90, 7, row.Description, "1", 0, "", false, 0, "")
		pdf.CellFormat(50, 7, row.Skill, "1", 0, "", false, 0, "")
		pdf.CellFormat(25, 7, value, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 7, fmt.Sprintf("%g", row.MaxPoints), "1", 1, "C", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(140, 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(25, 8, fmt.Sprintf("%g", report.Total), "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 8, fmt.Sprintf("%g", report.Max), "1", 1, "C", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Result: %.1f%%", report.Percentage), "", 1, "R", false, 0, "")

	if len(report.Skills) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Skills", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		for _, skill := range report.Skills {
			pdf.CellFormat(0, 6, fmt.Sprintf("%s: %g / %g (%.1f%%)", skill.Skill, skill.Current, skill.Max, skill.Percentage), "", 1, "L", false, 0, "")
		}
	}

	if len(report.Comments) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Comments", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		for _, comment := range report.Comments {
			pdf.MultiCell(0, 5, comment, "", "L", false)
			pdf.Ln(1)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
