package storage

import (
	"errors"
	"time"
)

// Record appends entry to history and folds it into the class status.
// A successful bootstrap sets the epoch to 1; a successful rotation
// increments it. Failed and partial runs leave the epoch unchanged, but
// a fingerprint carried by any entry replaces the recorded one.
// entry.Epoch is filled in with the resulting epoch.
func Record(s Storage, entry *HistoryEntry) (*RotationStatus, error) {
	status, err := s.GetStatus(entry.Class)
	if err != nil {
		if !errors.Is(err, ErrNoStatus) {
			return nil, err
		}
		status = &RotationStatus{Class: entry.Class}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if entry.Action == ActionRotate {
		status.RotationCount++
	}
	status.LastResult = entry.Status
	status.LastError = entry.Error

	switch entry.Status {
	case StatusActive:
		if entry.Action == ActionBootstrap {
			status.Epoch = 1
		} else {
			status.Epoch++
			status.SuccessCount++
		}
		status.Status = StatusActive
		status.LastRotation = entry.Timestamp
	default:
		status.FailureCount++
		status.Status = entry.Status
	}
	if entry.Fingerprint != "" {
		status.KeyFingerprint = entry.Fingerprint
	}
	entry.Epoch = status.Epoch

	if err := s.SaveHistory(entry); err != nil {
		return nil, err
	}
	if err := s.SaveStatus(status); err != nil {
		return nil, err
	}
	return status, nil
}
