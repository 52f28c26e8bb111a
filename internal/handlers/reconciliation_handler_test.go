package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconciliationHandler_DecodeRejectsUnknownFields(t *testing.T) {
	h := NewReconciliationHandler(nil)

	// A misspelled field must fail decoding instead of silently
	// falling back to the zero value.
	body := `{"bank_account_id": "acct-1", "tollerance_days": 3}`
	req := httptest.NewRequest(http.MethodPost, "/reconciliation/auto-match", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.AutoMatch(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request body")
}

func TestReconciliationHandler_DecodeRejectsMissingRequired(t *testing.T) {
	h := NewReconciliationHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/reconciliation/auto-match", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.AutoMatch(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Validation failed")
}
