// Package models contains shared data models used across the anomalyreport codebase.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JobID identifies a detection job. The backend assigns it at submission time
// and emits it as a JSON number; strings are accepted as well.
type JobID string

func (id JobID) String() string { return string(id) }

// UnmarshalJSON accepts both `42` and `"42"`.
func (id *JobID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("job id: empty value")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("job id: %w", err)
		}
		*id = JobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("job id: not an integer: %s", n)
	}
	*id = JobID(n.String())
	return nil
}

// ParseJobID validates a job id taken from a URL or form value.
func ParseJobID(s string) (JobID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("job id is empty")
	}
	if strings.ContainsAny(s, "/?#") {
		return "", fmt.Errorf("job id %q contains reserved characters", s)
	}
	return JobID(s), nil
}

// JobType is the kind of media a job processes.
type JobType string

const (
	JobTypeStream JobType = "STREAM"
	JobTypeVideo  JobType = "VIDEO"
)

func (t JobType) Valid() bool {
	return t == JobTypeStream || t == JobTypeVideo
}

// JobStatus is the processing status of a job. PROCESSING is the only
// non-terminal status.
type JobStatus string

const (
	StatusProcessing JobStatus = "PROCESSING"
	StatusSuccess    JobStatus = "SUCCESS"
	StatusError      JobStatus = "ERROR"
	StatusCanceled   JobStatus = "CANCELED"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusSuccess, StatusError, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further polling should happen after s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCanceled
}

// ModelType selects the detection model on the backend.
type ModelType string

const (
	ModelRGB   ModelType = "RGB"
	ModelBytes ModelType = "BYTES"
)

// ParseModelType normalizes a model name. An empty string is allowed and means
// "backend default".
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case string(ModelRGB):
		return ModelRGB, nil
	case string(ModelBytes):
		return ModelBytes, nil
	default:
		return "", fmt.Errorf("unknown model type %q: must be RGB or BYTES", s)
	}
}

// JobResult is a snapshot of a job as returned by the result endpoint.
// Each poll replaces the previous snapshot wholesale.
type JobResult struct {
	Type      JobType   `json:"type"`
	Status    JobStatus `json:"status"`
	Anomalies []Anomaly `json:"anomalies"`
}

// Clone returns a deep copy so callers can hand the snapshot out freely.
func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}
	out := &JobResult{Type: r.Type, Status: r.Status, Anomalies: make([]Anomaly, len(r.Anomalies))}
	for i, a := range r.Anomalies {
		a.Links = append([]string(nil), a.Links...)
		out.Anomalies[i] = a
	}
	return out
}

// SubmitResponse is returned by the stream and video submission endpoints.
type SubmitResponse struct {
	ID JobID `json:"id"`
}

// SubmitArchiveResponse is returned by the archive endpoint, one id per file.
type SubmitArchiveResponse struct {
	IDs []JobID `json:"ids"`
}
