package models

import "time"

// NotificationKind is the class of a user-visible notification.
type NotificationKind string

const (
	NotifyInfo    NotificationKind = "info"
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notification is emitted by a report view. Status is set only for
// notifications caused by a terminal poll result.
type Notification struct {
	SessionID string           `json:"-"`
	JobID     JobID            `json:"job_id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Status    JobStatus        `json:"status,omitempty"`
	At        time.Time        `json:"at"`
}
