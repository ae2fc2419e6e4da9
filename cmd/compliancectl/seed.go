package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shiftleft/compliance/internal/models"
)

var controlColumns = []string{"control_id", "framework", "title", "description"}

// parseControlsCSV reads a control catalogue. Columns are located by header
// name so extra columns are ignored.
func parseControlsCSV(r io.Reader) ([]models.Control, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty controls file")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range controlColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var controls []models.Control
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c := models.Control{
			ControlID:   strings.TrimSpace(rec[idx["control_id"]]),
			Framework:   strings.TrimSpace(rec[idx["framework"]]),
			Title:       strings.TrimSpace(rec[idx["title"]]),
			Description: strings.TrimSpace(rec[idx["description"]]),
			Status:      models.ControlPassing,
		}
		if c.ControlID == "" || c.Framework == "" || c.Title == "" {
			return nil, fmt.Errorf("line %d: control_id, framework and title are required", line)
		}
		if seen[c.ControlID] {
			return nil, fmt.Errorf("line %d: duplicate control_id %q", line, c.ControlID)
		}
		seen[c.ControlID] = true
		controls = append(controls, c)
	}
	return controls, nil
}
