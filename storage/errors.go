package storage

import "errors"

// Storage error constants
var (
	// ErrThreatNotFound is returned when a threat record is not found
	ErrThreatNotFound = errors.New("threat record not found")

	// ErrNotificationNotFound is returned when a notification is not found
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrDuplicateThreat is returned when a threat record with the same id already exists
	ErrDuplicateThreat = errors.New("threat record already exists")

	// ErrDuplicateNotification is returned when a notification with the same id already exists
	ErrDuplicateNotification = errors.New("notification already exists")
)
