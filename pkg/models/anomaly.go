package models

// AnomalyClass is the category the detector assigned to an anomaly.
type AnomalyClass string

const (
	ClassBlur      AnomalyClass = "BLUR"
	ClassHighlight AnomalyClass = "HIGHLIGHT"
	ClassCrop      AnomalyClass = "CROP"
	ClassOverlap   AnomalyClass = "OVERLAP"
)

var classLabels = map[AnomalyClass]string{
	ClassBlur:      "Blur",
	ClassHighlight: "Highlight",
	ClassCrop:      "Motion",
	ClassOverlap:   "Overlap",
}

// Label is the human-readable name of the class.
func (c AnomalyClass) Label() string {
	if l, ok := classLabels[c]; ok {
		return l
	}
	return "Unknown type"
}

// Anomaly is a single detection. Timestamp is unix milliseconds for STREAM
// jobs and seconds from the start of the file for VIDEO jobs.
type Anomaly struct {
	Timestamp int64        `json:"ts"`
	Links     []string     `json:"link"`
	Class     AnomalyClass `json:"class"`
}
