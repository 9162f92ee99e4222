package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// ClassCount is one bar of the anomaly class chart.
type ClassCount struct {
	Class models.AnomalyClass `json:"name"`
	Label string              `json:"label"`
	Count int                 `json:"anomalies_count"`
}

// CountByClass counts anomalies per class in first-seen order.
func CountByClass(anomalies []models.Anomaly) []ClassCount {
	out := []ClassCount{}
	idx := make(map[models.AnomalyClass]int)
	for _, a := range anomalies {
		i, ok := idx[a.Class]
		if !ok {
			i = len(out)
			idx[a.Class] = i
			out = append(out, ClassCount{Class: a.Class, Label: a.Class.Label()})
		}
		out[i].Count++
	}
	return out
}

// Chart returns the class counts of the current result.
func (v *View) Chart() ([]ClassCount, error) {
	_, res := v.current()
	if res == nil {
		return nil, ErrNoResult
	}
	return CountByClass(res.Anomalies), nil
}

// CSVHeader is the first row of an exported report.
var CSVHeader = []string{"Time", "Anomaly type", "Artifact link"}

// CSVFilename is the download name of a job's report.
func CSVFilename(jobID models.JobID) string {
	return fmt.Sprintf("report-%s.csv", jobID)
}

// WriteCSV writes res as a CSV report: one row per anomaly with its time,
// class label and first artifact link.
func WriteCSV(w io.Writer, res *models.JobResult, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, a := range res.Anomalies {
		link := ""
		if len(a.Links) > 0 {
			link = a.Links[0]
		}
		row := []string{FormatTime(res.Type, a.Timestamp, loc), a.Class.Label(), link}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV exports the current result of the view. Only finished SUCCESS or
// CANCELED results can be exported.
func (v *View) WriteCSV(w io.Writer) error {
	v.mu.Lock()
	res := v.result
	exportable := v.canExportLocked()
	v.mu.Unlock()

	if res == nil {
		return ErrNoResult
	}
	if !exportable {
		return fmt.Errorf("%w: status %s", ErrNotExportable, res.Status)
	}
	return WriteCSV(w, res, v.loc)
}
