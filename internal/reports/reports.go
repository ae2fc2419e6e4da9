package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shiftleft/compliance/internal/analytics"
	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/store"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

// ParseFormat accepts "pdf" or "csv", defaulting to pdf when empty.
func ParseFormat(s string) (ReportFormat, error) {
	switch ReportFormat(s) {
	case "":
		return FormatPDF, nil
	case FormatCSV, FormatPDF:
		return ReportFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

type Report struct {
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

// DataProvider supplies the figures an analytics report is built from.
type DataProvider interface {
	Summary(ctx context.Context) (*analytics.Summary, error)
	ComplianceScore(ctx context.Context) (*analytics.ComplianceScore, error)
	DailyTrend(ctx context.Context, risk *models.RiskLevel) ([]store.TrendPoint, error)
}

var _ DataProvider = (*analytics.Aggregator)(nil)

// ControlLister is optional. When set, the report includes the control table.
type ControlLister interface {
	ListControls(ctx context.Context) ([]models.Control, error)
}

type reportData struct {
	summary  *analytics.Summary
	score    *analytics.ComplianceScore
	trend    []store.TrendPoint
	controls []models.Control
}

type Generator struct {
	provider DataProvider
	controls ControlLister
	now      func() time.Time
}

func NewGenerator(provider DataProvider, controls ControlLister) *Generator {
	return &Generator{provider: provider, controls: controls, now: time.Now}
}

// Analytics renders the analytics summary, compliance score, daily trend and
// control statuses in the requested format.
func (g *Generator) Analytics(ctx context.Context, format ReportFormat, title string) (*Report, error) {
	if title == "" {
		title = "Compliance Analytics Report"
	}

	data, err := g.collect(ctx)
	if err != nil {
		return nil, err
	}

	generatedAt := g.now().UTC()
	stamp := generatedAt.Format("20060102_150405")

	report := &Report{Format: format, Title: title, GeneratedAt: generatedAt}
	switch format {
	case FormatCSV:
		report.Data, err = analyticsToCSV(data)
		report.Filename = fmt.Sprintf("analytics_%s.csv", stamp)
		report.MimeType = "text/csv"
	case FormatPDF:
		report.Data, err = analyticsToPDF(data, title, generatedAt)
		report.Filename = fmt.Sprintf("analytics_%s.pdf", stamp)
		report.MimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (g *Generator) collect(ctx context.Context) (*reportData, error) {
	summary, err := g.provider.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch summary: %w", err)
	}
	score, err := g.provider.ComplianceScore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch compliance score: %w", err)
	}
	trend, err := g.provider.DailyTrend(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trend: %w", err)
	}

	data := &reportData{summary: summary, score: score, trend: trend}
	if g.controls != nil {
		data.controls, err = g.controls.ListControls(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch controls: %w", err)
		}
	}
	return data, nil
}

func analyticsToCSV(data *reportData) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCSV(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCSV writes one section per block, each starting with a header row.
// Sections are separated by an empty record.
func writeCSV(out io.Writer, data *reportData) error {
	w := csv.NewWriter(out)
	itoa := strconv.Itoa

	rows := [][]string{
		{"Metric", "Value"},
		{"Total Findings", itoa(data.summary.TotalFindings)},
		{"Open Findings", itoa(data.summary.OpenFindings)},
		{"Resolved Findings", itoa(data.summary.ResolvedFindings)},
		{"Resolution Rate %", itoa(data.summary.ResolutionRate)},
		{"Compliance Score %", strconv.FormatFloat(data.score.Score, 'f', 1, 64)},
		{"Total Controls", itoa(data.score.TotalControls)},
		{"Passing Controls", itoa(data.score.Passing)},
		{"Failing Controls", itoa(data.score.Failing)},
		{},
		{"Risk Level", "Findings"},
	}
	for _, b := range data.summary.RiskDistribution {
		rows = append(rows, []string{b.Key, itoa(b.Count)})
	}
	rows = append(rows, []string{}, []string{"Source", "Findings"})
	for _, b := range data.summary.SourceDistribution {
		rows = append(rows, []string{b.Key, itoa(b.Count)})
	}
	rows = append(rows, []string{}, []string{"Control ID", "Risk Level", "Open Findings"})
	for _, v := range data.summary.TopViolations {
		rows = append(rows, []string{v.ControlID, string(v.RiskLevel), itoa(v.Count)})
	}
	rows = append(rows, []string{}, []string{"Date", "New Findings"})
	for _, p := range data.trend {
		rows = append(rows, []string{p.Day, itoa(p.Count)})
	}
	if len(data.controls) > 0 {
		rows = append(rows, []string{}, []string{"Control ID", "Framework", "Title", "Status"})
		for _, c := range data.controls {
			rows = append(rows, []string{c.ControlID, c.Framework, c.Title, string(c.Status)})
		}
	}

	for _, row := range rows {
		if len(row) == 0 {
			row = []string{""}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// StreamCSV writes the CSV rendering of the analytics report directly to w.
func (g *Generator) StreamCSV(ctx context.Context, w io.Writer) error {
	data, err := g.collect(ctx)
	if err != nil {
		return err
	}
	return writeCSV(w, data)
}

func truncate(s string, length int) string {
	if utf8.RuneCountInString(s) <= length {
		return s
	}
	return string([]rune(s)[:length-3]) + "..."
}
