// Copyright 2025 James Ross
package intake

import (
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/reduce"
)

// CreateJobRequest is the validated shape of a POST /v1/jobs body. Struct
// tags drive go-playground/validator; the cross-field rules spec.md §6
// lists (archive/includeFormats/compression/sourceCollection/reduceSpec) are
// enforced separately in validateReportFields, since they can't be expressed as
// single-field tags.
type CreateJobRequest struct {
	ReportDefinitionID string                 `json:"reportDefinitionId" validate:"required"`
	Format              string                 `json:"format" validate:"required,oneof=delimited structured-object spreadsheet paginated-document archive"`
	Filters             map[string]interface{} `json:"filters,omitempty"`
	Timezone            string                 `json:"timezone,omitempty"`
	Locale              string                 `json:"locale,omitempty"`
	Compression         string                 `json:"compression,omitempty" validate:"omitempty,oneof=none zip"`
	IncludeFormats      []string               `json:"includeFormats,omitempty"`
	ReduceSpec          *reduce.Spec           `json:"reduceSpec,omitempty"`
	PartitionSpec       *reduce.PartitionSpec  `json:"partitionSpec,omitempty"`
	SourceCollection    string                 `json:"sourceCollection,omitempty"`
}

// CreateScheduleRequest is the validated shape of a POST /v1/schedules body.
type CreateScheduleRequest struct {
	Name             string                 `json:"name" validate:"required"`
	Cron             string                 `json:"cron" validate:"required"`
	Timezone         string                 `json:"timezone" validate:"required"`
	Enabled          bool                   `json:"enabled"`
	Format           string                 `json:"format" validate:"required,oneof=delimited structured-object spreadsheet paginated-document archive"`
	Filters          map[string]interface{} `json:"filters,omitempty"`
	Compression      string                 `json:"compression,omitempty" validate:"omitempty,oneof=none zip"`
	IncludeFormats   []string               `json:"includeFormats,omitempty"`
	ReduceSpec       *reduce.Spec           `json:"reduceSpec,omitempty"`
	PartitionSpec    *reduce.PartitionSpec  `json:"partitionSpec,omitempty"`
	SourceCollection string                 `json:"sourceCollection,omitempty"`
}

// UpdateScheduleRequest is the validated shape of a PUT /v1/schedules/{id}
// body; all fields replace the existing schedule's, matching ScheduleStore's
// ReplaceOne-style UpdateSchedule.
type UpdateScheduleRequest struct {
	Name             string                 `json:"name" validate:"required"`
	Cron             string                 `json:"cron" validate:"required"`
	Timezone         string                 `json:"timezone" validate:"required"`
	Enabled          bool                   `json:"enabled"`
	Format           string                 `json:"format" validate:"required,oneof=delimited structured-object spreadsheet paginated-document archive"`
	Filters          map[string]interface{} `json:"filters,omitempty"`
	Compression      string                 `json:"compression,omitempty" validate:"omitempty,oneof=none zip"`
	IncludeFormats   []string               `json:"includeFormats,omitempty"`
	ReduceSpec       *reduce.Spec           `json:"reduceSpec,omitempty"`
	PartitionSpec    *reduce.PartitionSpec  `json:"partitionSpec,omitempty"`
	SourceCollection string                 `json:"sourceCollection,omitempty"`
}

func compressionOf(s string) docstore.Compression {
	if s == "" {
		return docstore.CompressionNone
	}
	return docstore.Compression(s)
}
