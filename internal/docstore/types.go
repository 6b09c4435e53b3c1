// Copyright 2025 James Ross
package docstore

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flyingrobots/reportgen/internal/reduce"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusUploading JobStatus = "uploading"
	StatusUploaded  JobStatus = "uploaded"
	StatusFailed    JobStatus = "failed"
	StatusExpired   JobStatus = "expired"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZip  Compression = "zip"
)

// ErrorRecord is the terminal-failure record persisted on a job.
type ErrorRecord struct {
	Message string `bson:"message"`
	Kind    string `bson:"kind,omitempty"`
}

// ProcessingStats is computed once a job reaches its terminal upload step.
type ProcessingStats struct {
	DurationMs              int64   `bson:"durationMs"`
	ThroughputRowsPerSecond float64 `bson:"throughputRowsPerSecond"`
	MemoryPeakBytes         uint64  `bson:"memoryPeakBytes"`
	ZipStrategy             string  `bson:"zipStrategy,omitempty"` // "" | "multipass" | "snapshot"
}

// ArtifactDescriptor describes the uploaded (or not-uploaded) output.
type ArtifactDescriptor struct {
	Mode      string   `bson:"mode"`
	Available bool     `bson:"available"`
	Reason    string   `bson:"reason,omitempty"`
	SizeBytes int64    `bson:"sizeBytes,omitempty"`
	Checksum  string   `bson:"checksum,omitempty"`
	Key       string   `bson:"key,omitempty"`
	Bucket    string   `bson:"bucket,omitempty"`
	Entries   []string `bson:"entries,omitempty"`
}

// Reasons for a non-available artifact.
const (
	ReasonExternalStorageDisabled = "EXTERNAL_STORAGE_DISABLED"
	ReasonOptionalIntegrationFail = "OPTIONAL_INTEGRATION_FAILURE"
	ReasonDownloadURLUnavailable  = "DOWNLOAD_URL_UNAVAILABLE"
	ReasonPending                 = "PENDING"
)

// Job is the persisted report job document.
type Job struct {
	ID                 bson.ObjectID          `bson:"_id"`
	TenantID           string                 `bson:"tenantId"`
	Status             JobStatus              `bson:"status"`
	Progress           int                    `bson:"progress"`
	RowCount           int64                  `bson:"rowCount"`
	ReportDefinitionID string                 `bson:"reportDefinitionId"`
	Format             string                 `bson:"format"`
	Filters            map[string]interface{} `bson:"filters,omitempty"`
	Timezone           string                 `bson:"timezone,omitempty"`
	Locale             string                 `bson:"locale,omitempty"`
	Compression        Compression            `bson:"compression,omitempty"`
	IncludeFormats     []string               `bson:"includeFormats,omitempty"`
	ReduceSpec         *reduce.Spec           `bson:"reduceSpec,omitempty"`
	PartitionSpec      *reduce.PartitionSpec  `bson:"partitionSpec,omitempty"`
	SourceCollection   string                 `bson:"sourceCollection,omitempty"`
	Artifact           ArtifactDescriptor     `bson:"artifact"`
	Error              *ErrorRecord           `bson:"error,omitempty"`
	ProcessingStats    *ProcessingStats       `bson:"processingStats,omitempty"`
	CreatedAt          time.Time              `bson:"createdAt"`
	StartedAt          *time.Time             `bson:"startedAt,omitempty"`
	FinishedAt         *time.Time             `bson:"finishedAt,omitempty"`
	ExpireAt           time.Time              `bson:"expireAt"`
}

// Terminal reports whether the job has reached a state the processor must
// not re-run for (uploaded, failed, expired).
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusUploaded, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Schedule is the persisted cron schedule document.
type Schedule struct {
	ID               bson.ObjectID          `bson:"_id"`
	TenantID         string                 `bson:"tenantId"`
	Name             string                 `bson:"name"`
	Cron             string                 `bson:"cron"`
	Timezone         string                 `bson:"timezone"`
	Enabled          bool                   `bson:"enabled"`
	Format           string                 `bson:"format"`
	Filters          map[string]interface{} `bson:"filters,omitempty"`
	ReduceSpec       *reduce.Spec           `bson:"reduceSpec,omitempty"`
	PartitionSpec    *reduce.PartitionSpec  `bson:"partitionSpec,omitempty"`
	IncludeFormats   []string               `bson:"includeFormats,omitempty"`
	Compression      Compression            `bson:"compression,omitempty"`
	SourceCollection string                 `bson:"sourceCollection,omitempty"`
	NextRunAt        *time.Time             `bson:"nextRunAt,omitempty"`
	LastRunAt        *time.Time             `bson:"lastRunAt,omitempty"`
	CreatedAt        time.Time              `bson:"createdAt"`
	UpdatedAt        time.Time              `bson:"updatedAt"`
}
