// Copyright 2025 James Ross
package reduce

import (
	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/reporterr"
)

type Op string

const (
	OpCount Op = "count"
	OpSum   Op = "sum"
	OpMin   Op = "min"
	OpMax   Op = "max"
	OpAvg   Op = "avg"
)

// Metric is one aggregation to compute per group.
type Metric struct {
	Op    Op     `bson:"op" json:"op"`
	Field string `bson:"field,omitempty" json:"field,omitempty"`
	As    string `bson:"as" json:"as"`
}

// Spec is a validated grouped-aggregation request.
type Spec struct {
	GroupBy []string `bson:"groupBy" json:"groupBy"`
	Metrics []Metric `bson:"metrics" json:"metrics"`
}

// PartitionSpec controls how the identifier space is split across workers.
// A nil Chunks means "use the configured default chunk count".
type PartitionSpec struct {
	Strategy string `bson:"strategy" json:"strategy"`
	Chunks   *int   `bson:"chunks,omitempty" json:"chunks,omitempty"`
}

// Validate rejects specs with empty metrics, invalid identifiers, duplicate
// aliases, or non-count metrics lacking a field.
func Validate(spec Spec) error {
	for _, field := range spec.GroupBy {
		if !config.IdentifierSafe(field) {
			return reporterr.New(reporterr.KindReduceValidation, "groupBy field %q is not identifier-safe", field)
		}
	}
	if len(spec.Metrics) == 0 {
		return reporterr.New(reporterr.KindReduceValidation, "metrics must be non-empty")
	}

	seenAlias := make(map[string]bool, len(spec.Metrics))
	for _, m := range spec.Metrics {
		if !config.IdentifierSafe(m.As) {
			return reporterr.New(reporterr.KindReduceValidation, "metric alias %q is not identifier-safe", m.As)
		}
		if seenAlias[m.As] {
			return reporterr.New(reporterr.KindReduceValidation, "duplicate metric alias %q", m.As)
		}
		seenAlias[m.As] = true

		switch m.Op {
		case OpCount:
			// field is ignored for count.
		case OpSum, OpMin, OpMax, OpAvg:
			if m.Field == "" {
				return reporterr.New(reporterr.KindReduceValidation, "metric %q (op=%s) requires a field", m.As, m.Op)
			}
			if !config.IdentifierSafe(m.Field) {
				return reporterr.New(reporterr.KindReduceValidation, "metric %q field %q is not identifier-safe", m.As, m.Field)
			}
		default:
			return reporterr.New(reporterr.KindReduceValidation, "metric %q has unknown op %q", m.As, m.Op)
		}
	}
	return nil
}

// ResolveChunks applies requestedChunks ?? defaultChunks, then the partition
// cap, then the >=1 floor.
func ResolveChunks(part PartitionSpec, defaultChunks, partitionCapMax int) int {
	requested := defaultChunks
	if part.Chunks != nil {
		requested = *part.Chunks
	}
	k := requested
	if k > partitionCapMax {
		k = partitionCapMax
	}
	if k < 1 {
		k = 1
	}
	return k
}
