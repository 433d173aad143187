package domain

import "time"

type SyncDirection string

const (
	DirectionUpload        SyncDirection = "upload"
	DirectionDownload      SyncDirection = "download"
	DirectionBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case DirectionUpload, DirectionDownload, DirectionBidirectional:
		return true
	}
	return false
}

// SideCounts tallies what one side of a sync saw and did.
type SideCounts struct {
	Read    int `json:"read"`
	Written int `json:"written"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

type SyncError struct {
	Phase     string    `json:"phase"`
	Key       string    `json:"key,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConflictRecord is one resolver verdict. Every resolver invocation produces
// exactly one record, including no-op outcomes for already-identical rules.
type ConflictRecord struct {
	RuleID         string            `json:"rule_id"`
	Domain         string            `json:"domain,omitempty"`
	LocalModified  time.Time         `json:"local_modified"`
	RemoteModified time.Time         `json:"remote_modified"`
	Resolution     Resolution        `json:"resolution"`
	Differences    []FieldDifference `json:"differences,omitempty"`
}

// SyncResult is the ephemeral record of one sync run. It is persisted when
// the run finishes, successfully or not, and superseded by the next run.
type SyncResult struct {
	Direction SyncDirection    `json:"direction"`
	Backend   string           `json:"backend"`
	Success   bool             `json:"success"`
	Local     SideCounts       `json:"local"`
	Remote    SideCounts       `json:"remote"`
	Conflicts []ConflictRecord `json:"conflicts"`
	Errors    []SyncError      `json:"errors"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
}

func (r *SyncResult) AddError(phase, key string, err error) {
	r.Errors = append(r.Errors, SyncError{
		Phase:     phase,
		Key:       key,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// SyncStatus is the non-blocking view of the engine.
type SyncStatus struct {
	InProgress     bool        `json:"in_progress"`
	LastSyncTime   *time.Time  `json:"last_sync_time,omitempty"`
	LastResult     *SyncResult `json:"last_result,omitempty"`
	LastError      *SyncError  `json:"last_error,omitempty"`
	HasNeverSynced bool        `json:"has_never_synced"`
}

type SyncRequest struct {
	Direction SyncDirection `json:"direction" validate:"required,oneof=upload download bidirectional"`
	Backend   string        `json:"backend" validate:"required,oneof=dataverse sharepoint"`
	Strategy  Strategy      `json:"strategy" validate:"omitempty,oneof=local_wins remote_wins newest_wins merge"`
}
