package common

import (
	"github.com/google/uuid"
)

// NewDiagnosticID generates a unique id for a failure snapshot directory.
// Format: diag_<uuid>
func NewDiagnosticID() string {
	return "diag_" + uuid.New().String()
}
