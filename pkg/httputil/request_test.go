package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkRequest struct {
	Resource string   `json:"resource" validate:"required,oneof=reports tickets"`
	Actions  []string `json:"actions" validate:"omitempty,dive,required"`
	Limit    int      `json:"limit" validate:"gte=0,lte=100"`
}

func jsonRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestParseJSON(t *testing.T) {
	var dest checkRequest
	require.NoError(t, ParseJSON(jsonRequest(`{"resource":"reports","limit":5}`), &dest))
	assert.Equal(t, "reports", dest.Resource)
	assert.Equal(t, 5, dest.Limit)

	err := ParseJSON(jsonRequest(``), &dest)
	require.Error(t, err)
	assert.Equal(t, "request body is empty", err.Error())

	err = ParseJSON(jsonRequest(`{"resource":"reports","surprise":true}`), &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")

	err = ParseJSON(jsonRequest(`{"resource":`), &dest)
	require.Error(t, err)
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var dest checkRequest
		rec := httptest.NewRecorder()
		assert.True(t, DecodeAndValidate(rec, jsonRequest(`{"resource":"tickets","actions":["read"]}`), &dest))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("validation details", func(t *testing.T) {
		var dest checkRequest
		rec := httptest.NewRecorder()
		assert.False(t, DecodeAndValidate(rec, jsonRequest(`{"resource":"payroll","actions":[""],"limit":500}`), &dest))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "validation failed", body.Error)
		assert.Equal(t, map[string]string{
			"checkRequest.Resource":   "oneof=reports tickets",
			"checkRequest.Actions[0]": "required",
			"checkRequest.Limit":      "lte=100",
		}, body.Details)
	})

	t.Run("malformed", func(t *testing.T) {
		var dest checkRequest
		rec := httptest.NewRecorder()
		assert.False(t, DecodeAndValidate(rec, jsonRequest(`[]`), &dest))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, decodeError(t, rec).Details)
	})
}

func TestValidationDetails_NonValidatorError(t *testing.T) {
	assert.Nil(t, ValidationDetails(assert.AnError))
}

func TestParseQueryInt(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 100, false},
		{"?limit=25", 25, false},
		{"?limit=-3", -3, false},
		{"?limit=ten", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/activity"+tt.query, nil)
			got, err := ParseQueryInt(r, "limit", 100)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	rec := httptest.NewRecorder()
	_, ok := ParseQueryIntOrError(rec, httptest.NewRequest(http.MethodGet, "/?limit=x", nil), "limit", 1)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWantsHTML(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"*/*", false},
		{"application/json", false},
		{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", true},
		{"application/xhtml+xml", true},
		{"application/json, text/html", false},
	}

	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.want, WantsHTML(r))
		})
	}
}
