package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

type PDFReport struct {
	pdf   *gofpdf.Fpdf
	title string
}

func NewPDFReport(title string, generatedAt time.Time) *PDFReport {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)

	r := &PDFReport{
		pdf:   pdf,
		title: title,
	}

	r.addHeader(generatedAt)
	return r
}

func (r *PDFReport) addHeader(generatedAt time.Time) {
	r.pdf.AddPage()

	r.pdf.SetFont("Arial", "B", 20)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.CellFormat(0, 15, r.title, "", 1, "C", false, 0, "")

	r.pdf.SetFont("Arial", "", 10)
	r.pdf.SetTextColor(108, 117, 125)
	r.pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s UTC", generatedAt.Format("January 2, 2006 3:04 PM")), "", 1, "C", false, 0, "")

	r.pdf.Ln(10)
}

func (r *PDFReport) AddSection(title string) {
	r.pdf.SetFont("Arial", "B", 14)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.SetFillColor(240, 240, 240)
	r.pdf.CellFormat(0, 10, title, "", 1, "L", true, 0, "")
	r.pdf.Ln(5)
}

func (r *PDFReport) AddParagraph(text string) {
	r.pdf.SetFont("Arial", "", 10)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.MultiCell(0, 6, text, "", "L", false)
	r.pdf.Ln(5)
}

func (r *PDFReport) AddTable(headers []string, rows [][]string) {
	pageWidth := 180.0 // A4 width minus margins
	colWidth := pageWidth / float64(len(headers))

	r.pdf.SetFont("Arial", "B", 9)
	r.pdf.SetFillColor(52, 58, 64)
	r.pdf.SetTextColor(255, 255, 255)
	for _, h := range headers {
		r.pdf.CellFormat(colWidth, 8, h, "1", 0, "C", true, 0, "")
	}
	r.pdf.Ln(-1)

	r.pdf.SetFont("Arial", "", 9)
	r.pdf.SetTextColor(33, 37, 41)
	fill := false
	for _, row := range rows {
		if fill {
			r.pdf.SetFillColor(248, 249, 250)
		} else {
			r.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			r.pdf.CellFormat(colWidth, 7, truncate(cell, 30), "1", 0, "L", true, 0, "")
		}
		r.pdf.Ln(-1)
		fill = !fill
	}

	r.pdf.Ln(5)
}

type metric struct {
	label string
	value string
}

func (r *PDFReport) AddSummaryTable(metrics []metric) {
	r.pdf.SetFont("Arial", "", 10)

	for _, m := range metrics {
		r.pdf.SetTextColor(108, 117, 125)
		r.pdf.CellFormat(60, 7, m.label+":", "", 0, "L", false, 0, "")

		r.pdf.SetFont("Arial", "B", 10)
		r.pdf.SetTextColor(33, 37, 41)
		r.pdf.CellFormat(0, 7, m.value, "", 1, "L", false, 0, "")
		r.pdf.SetFont("Arial", "", 10)
	}

	r.pdf.Ln(5)
}

// AddChart draws a horizontal bar per bucket, scaled to the largest count.
func (r *PDFReport) AddChart(buckets []store.BucketCount) {
	max := 0
	for _, b := range buckets {
		if b.Count > max {
			max = b.Count
		}
	}
	if max == 0 {
		max = 1
	}

	barMaxWidth := 100.0

	for _, b := range buckets {
		r.pdf.SetFont("Arial", "", 9)
		r.pdf.SetTextColor(108, 117, 125)
		r.pdf.CellFormat(40, 6, b.Key, "", 0, "L", false, 0, "")

		red, green, blue := riskColor(models.RiskLevel(b.Key))
		r.pdf.SetFillColor(red, green, blue)
		barWidth := float64(b.Count) / float64(max) * barMaxWidth
		r.pdf.CellFormat(barWidth, 6, "", "", 0, "L", true, 0, "")

		r.pdf.SetTextColor(33, 37, 41)
		r.pdf.CellFormat(30, 6, fmt.Sprintf(" %d", b.Count), "", 1, "L", false, 0, "")
	}

	r.pdf.Ln(5)
}

// AddScoreBar draws the compliance score as a bar coloured by threshold.
func (r *PDFReport) AddScoreBar(label string, pct float64) {
	r.pdf.SetFont("Arial", "B", 11)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.CellFormat(50, 8, label, "", 0, "L", false, 0, "")

	switch {
	case pct >= 80:
		r.pdf.SetFillColor(40, 167, 69)
	case pct >= 50:
		r.pdf.SetFillColor(255, 193, 7)
	default:
		r.pdf.SetFillColor(220, 53, 69)
	}
	if pct > 0 {
		r.pdf.CellFormat(pct*0.8, 8, "", "", 0, "L", true, 0, "")
	}
	r.pdf.CellFormat(0, 8, fmt.Sprintf(" %.1f%%", pct), "", 1, "L", false, 0, "")
	r.pdf.Ln(5)
}

func riskColor(risk models.RiskLevel) (int, int, int) {
	switch risk {
	case models.RiskHigh:
		return 220, 53, 69
	case models.RiskMedium:
		return 253, 126, 20
	case models.RiskLow:
		return 40, 167, 69
	default:
		return 66, 133, 244
	}
}

func (r *PDFReport) AddPageBreak() {
	r.pdf.AddPage()
}

func (r *PDFReport) addFooter() {
	r.pdf.SetFooterFunc(func() {
		r.pdf.SetY(-15)
		r.pdf.SetFont("Arial", "I", 8)
		r.pdf.SetTextColor(128, 128, 128)
		r.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", r.pdf.PageNo()), "", 0, "C", false, 0, "")
	})
}

func (r *PDFReport) Output() ([]byte, error) {
	r.addFooter()

	var buf bytes.Buffer
	err := r.pdf.Output(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	return buf.Bytes(), nil
}

func analyticsToPDF(data *reportData, title string, generatedAt time.Time) ([]byte, error) {
	pdf := NewPDFReport(title, generatedAt)
	s := data.summary

	pdf.AddSection("Compliance Overview")
	pdf.AddScoreBar("Compliance Score", data.score.Score)
	pdf.AddSummaryTable([]metric{
		{"Total Findings", fmt.Sprintf("%d", s.TotalFindings)},
		{"Open Findings", fmt.Sprintf("%d", s.OpenFindings)},
		{"Resolved Findings", fmt.Sprintf("%d", s.ResolvedFindings)},
		{"Resolution Rate", fmt.Sprintf("%d%%", s.ResolutionRate)},
		{"Controls Passing", fmt.Sprintf("%d/%d", data.score.Passing, data.score.TotalControls)},
	})

	pdf.AddSection("Findings by Risk Level")
	pdf.AddChart(s.RiskDistribution)

	pdf.AddSection("Findings by Source")
	pdf.AddChart(s.SourceDistribution)

	pdf.AddSection("Top Violating Controls")
	if len(s.TopViolations) == 0 {
		pdf.AddParagraph("No open findings are linked to a control.")
	} else {
		rows := make([][]string, 0, len(s.TopViolations))
		for _, v := range s.TopViolations {
			rows = append(rows, []string{v.ControlID, string(v.RiskLevel), fmt.Sprintf("%d", v.Count)})
		}
		pdf.AddTable([]string{"Control", "Risk Level", "Open Findings"}, rows)
	}

	pdf.AddSection("Daily Trend")
	if len(data.trend) == 0 {
		pdf.AddParagraph("No findings have been recorded yet.")
	} else {
		rows := make([][]string, 0, len(data.trend))
		for _, p := range data.trend {
			rows = append(rows, []string{p.Day, fmt.Sprintf("%d", p.Count)})
		}
		pdf.AddTable([]string{"Date (UTC)", "New Findings"}, rows)
	}

	if len(data.controls) > 0 {
		pdf.AddPageBreak()
		pdf.AddSection("Controls")
		rows := make([][]string, 0, len(data.controls))
		for _, c := range data.controls {
			rows = append(rows, []string{c.ControlID, c.Framework, c.Title, string(c.Status)})
		}
		pdf.AddTable([]string{"Control", "Framework", "Title", "Status"}, rows)
	}

	return pdf.Output()
}
