package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: product 9", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: notes required", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: Draft -> Completed", shared.ErrInvalidStateTransition), http.StatusConflict},
		{shared.ErrConcurrencyConflict, http.StatusConflict},
		{shared.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestConflictResponseIsRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.ErrConcurrencyConflict)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Retryable)
}

func TestDecodeAndValidate(t *testing.T) {
	type payload struct {
		Reason string `json:"reason" validate:"required"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":""}`))
	var p payload
	err := DecodeAndValidate(req, &p)
	require.ErrorIs(t, err, ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"supplier late"}`))
	require.NoError(t, DecodeAndValidate(req, &p))
	require.Equal(t, "supplier late", p.Reason)
}

func TestQueryDate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2024-03-01&to=2024-03-02", nil)
	from, err := QueryDate(req, "from", false)
	require.NoError(t, err)
	require.Equal(t, 0, from.Hour())
	to, err := QueryDate(req, "to", true)
	require.NoError(t, err)
	require.Equal(t, 23, to.Hour())

	missing, err := QueryDate(req, "until", false)
	require.NoError(t, err)
	require.Nil(t, missing)

	req = httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	_, err = QueryDate(req, "from", false)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestScopeFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ScopeFrom(req)
	require.ErrorIs(t, err, ErrBadRequest)

	want := shared.Scope{BusinessID: 3, Actor: shared.Actor{ID: 4}}
	req = req.WithContext(shared.ContextWithScope(req.Context(), want))
	got, err := ScopeFrom(req)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
