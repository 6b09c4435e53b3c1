// Copyright 2025 James Ross
package intake

import (
	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/reduce"
	"github.com/flyingrobots/reportgen/internal/reporterr"
)

// validateReportFields enforces spec.md §6's cross-field rules that a single
// struct tag can't express: the archive/includeFormats pairing, the
// compression/archive conflict, the source collection allowlist, and
// reduceSpec's own identifier-safety and alias-uniqueness rules.
func validateReportFields(format, compression string, includeFormats []string, sourceCollection string, reduceSpec *reduce.Spec, allowlist []string) error {
	if format == "archive" {
		if len(includeFormats) == 0 {
			return reporterr.New(reporterr.KindArchiveRequiresIncludeFormats, "archive format requires includeFormats")
		}
		if hasDuplicates(includeFormats) {
			return reporterr.New(reporterr.KindDuplicateIncludeFormats, "includeFormats must not contain duplicates")
		}
		if compression == "zip" {
			return reporterr.New(reporterr.KindCompressionArchiveConflict, "compression=zip is incompatible with format=archive")
		}
	} else if len(includeFormats) > 0 {
		return reporterr.New(reporterr.KindIncludeFormatsNotAllowed, "includeFormats is only allowed when format=archive")
	}

	if sourceCollection != "" {
		if !config.IdentifierSafe(sourceCollection) || !allowlisted(sourceCollection, allowlist) {
			return reporterr.New(reporterr.KindSourceCollectionNotAllowed, "source collection %q is not allowed", sourceCollection)
		}
	}

	if reduceSpec != nil {
		if err := reduce.Validate(*reduceSpec); err != nil {
			return err
		}
	}

	return nil
}

func hasDuplicates(ss []string) bool {
	seen := make(map[string]bool, len(ss))
	for _, s := range ss {
		if seen[s] {
			return true
		}
		seen[s] = true
	}
	return false
}

func allowlisted(name string, allowlist []string) bool {
	for _, a := range allowlist {
		if a == name {
			return true
		}
	}
	return false
}
