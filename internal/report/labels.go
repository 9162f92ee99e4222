package report

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

var statusLabels = map[models.JobStatus]string{
	models.StatusProcessing: "Processing",
	models.StatusSuccess:    "Completed successfully",
	models.StatusError:      "Error",
	models.StatusCanceled:   "Canceled",
}

var typeLabels = map[models.JobType]string{
	models.JobTypeStream: "Stream",
	models.JobTypeVideo:  "Video",
}

const unknownLabel = "Unknown type"

// StatusLabel is the display name of a job status.
func StatusLabel(s models.JobStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return unknownLabel
}

// TypeLabel is the display name of a job type.
func TypeLabel(t models.JobType) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return unknownLabel
}

// FormatVideoTime renders elapsed seconds as m:ss.
func FormatVideoTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FormatStreamTime renders a unix millisecond timestamp as a time of day in loc.
func FormatStreamTime(ms int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format("15:04:05")
}

// FormatTime renders an anomaly timestamp the way the report table shows it.
func FormatTime(t models.JobType, ts int64, loc *time.Location) string {
	if t == models.JobTypeVideo {
		return FormatVideoTime(ts)
	}
	return FormatStreamTime(ts, loc)
}

// TreeTitle is the entry shown in the timecode tree.
func TreeTitle(t models.JobType, ts int64, loc *time.Location) string {
	if t == models.JobTypeVideo {
		return fmt.Sprintf("Second %d", ts)
	}
	return "Time: " + FormatStreamTime(ts, loc)
}

// ItemLabel is the header of an anomaly's collapsible panel.
func ItemLabel(t models.JobType, a models.Anomaly, loc *time.Location) string {
	prefix := FormatVideoTime(a.Timestamp)
	if t != models.JobTypeVideo {
		prefix = "Time: " + FormatStreamTime(a.Timestamp, loc)
	}
	return prefix + ". Anomaly type: " + a.Class.Label()
}
