package replicator

import (
	"errors"
	"fmt"
	"strings"

	"mlcopy/internal/meli"
	"mlcopy/internal/models"
)

// MissingInfoError signals that the destination platform rejected the
// listing for lack of shipping dimensions. Not a failure; the target is
// paused until an operator supplies the missing values.
type MissingInfoError struct {
	Account string
	Detail  string
}

func (e *MissingInfoError) Error() string {
	return fmt.Sprintf("listing on %s needs package dimensions: %s", e.Account, e.Detail)
}

// PartialReplaceError marks a replace that deleted the existing table but
// failed to install the new one, leaving the destination emptier than any
// intended end state.
type PartialReplaceError struct {
	Account string
	ItemID  string
	Err     error
}

func (e *PartialReplaceError) Error() string {
	return fmt.Sprintf("replace on %s/%s removed existing compatibilities but failed to copy new ones: %v", e.Account, e.ItemID, e.Err)
}

func (e *PartialReplaceError) Unwrap() error { return e.Err }

// LedgerWriteError wraps a ledger failure that happened after an external
// mutation already succeeded. It is an operational condition, never
// retried against the remote API.
type LedgerWriteError struct {
	JobID   string
	Account string
	ItemID  string
	Err     error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed for job %s target %s/%s after remote call: %v", e.JobID, e.Account, e.ItemID, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// dimensionKeywords are the rejection-cause fragments the platform emits
// when a listing lacks package dimensions. Matched case-insensitively
// across every textual field of the error payload.
var dimensionKeywords = []string{
	"package",
	"dimension",
	"shipping.dimensions",
	"seller_package",
	"peso",
	"dimensao",
	"dimensiones",
}

// isMissingDimensions reports whether a validation error is actually a
// missing-dimensions rejection.
func isMissingDimensions(err error) bool {
	var apiErr *meli.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if !meli.IsValidation(err) {
		return false
	}
	for _, text := range apiErr.CauseTexts() {
		lowered := strings.ToLower(text)
		for _, kw := range dimensionKeywords {
			if strings.Contains(lowered, kw) {
				return true
			}
		}
	}
	return false
}

func apiErrorDetail(err error) string {
	var apiErr *meli.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

// classifyError maps an execution error to the error kind recorded on the
// target's ledger row.
func classifyError(err error) string {
	var partial *PartialReplaceError
	if errors.As(err, &partial) {
		return models.ErrKindPartialReplace
	}
	var ledger *LedgerWriteError
	if errors.As(err, &ledger) {
		return models.ErrKindLedger
	}
	switch {
	case meli.IsRateLimited(err):
		return models.ErrKindRateLimited
	case meli.IsTransient(err):
		return models.ErrKindTransient
	case meli.IsValidation(err):
		return models.ErrKindValidation
	default:
		return models.ErrKindTransient
	}
}
