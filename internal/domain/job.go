package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusSuccess || next == JobStatusFailed
	default:
		return false
	}
}

// Resolution is the output tier shared by every job of a batch.
type Resolution string

const (
	Resolution1K Resolution = "1k"
	Resolution2K Resolution = "2k"
	Resolution4K Resolution = "4k"
)

// Resolutions lists the supported tiers in ascending order.
var Resolutions = []Resolution{Resolution1K, Resolution2K, Resolution4K}

// LongEdge returns the pixel length of the longest side for the tier.
func (r Resolution) LongEdge() int {
	switch r {
	case Resolution1K:
		return 1024
	case Resolution2K:
		return 2048
	case Resolution4K:
		return 4096
	default:
		return 0
	}
}

// Valid reports whether r is one of the supported tiers.
func (r Resolution) Valid() bool {
	return r.LongEdge() > 0
}

// SourceAsset is the original image handed over by the uploader.
type SourceAsset struct {
	Filename string
	MIME     string
	Data     []byte
	Width    int
	Height   int
}

// ResultAsset references the persisted output of a successful job.
type ResultAsset struct {
	URL        string `json:"url"`
	StorageKey string `json:"storage_key"`
	MIME       string `json:"mime"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bytes      int64  `json:"bytes"`
}

// JobError carries the failure reason of a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job is one image's enhancement request and its lifecycle. SourceID is the
// uploader's identifier for the image, if it supplied one.
type Job struct {
	ID            string
	SourceID      string
	Index         int
	Source        SourceAsset
	PreviewHandle string
	Status        JobStatus
	Result        *ResultAsset
	Error         *JobError
	CreditsQuoted int64
	HistoryID     string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Summary counts jobs per state.
type Summary struct {
	Pending        int   `json:"pending"`
	Processing     int   `json:"processing"`
	Success        int   `json:"success"`
	Failed         int   `json:"failed"`
	CreditsCharged int64 `json:"credits_charged"`
}

// Total returns the number of jobs counted.
func (s Summary) Total() int {
	return s.Pending + s.Processing + s.Success + s.Failed
}

// Done reports whether every counted job is terminal.
func (s Summary) Done() bool {
	return s.Pending == 0 && s.Processing == 0
}
