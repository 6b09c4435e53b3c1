// Copyright 2025 James Ross
package intake

import (
	"encoding/json"
	"net/http"

	"github.com/flyingrobots/reportgen/internal/reporterr"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// writeReportErr maps a reporterr.Error (or an opaque error) to the
// appropriate HTTP status and a stable error code in the body.
func writeReportErr(w http.ResponseWriter, err error) {
	kind, ok := reporterr.KindOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	status := http.StatusBadRequest
	if kind == reporterr.KindNotFound {
		status = http.StatusNotFound
	}
	writeError(w, status, reporterr.ErrorCode(err), err.Error())
}
