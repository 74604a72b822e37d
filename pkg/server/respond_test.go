package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func TestWriteJSON_SetsContentTypeAndEncodesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, 201, map[string]string{"ok": "yes"})

	if rec.Code != 201 {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json content type, got %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != "yes" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestWriteJSON_NilBodyWritesNoPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, 204, nil)
	if rec.Body.Len() != 0 {
		t.Fatalf("expected an empty body, got %q", rec.Body.String())
	}
}

func TestStatusForError_MapsKnownSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errUnauthenticated, 401},
		{store.ErrNotFound, 404},
		{store.ErrConflict, 409},
		{store.ErrCASFailed, 409},
		{auth.ErrPasswordMismatch, 401},
		{auth.ErrForbidden, 403},
		{errValidation("bad input"), 400},
		{domain.NewDomainRejection("INSUFFICIENT_FUNDS", "not enough balance"), 400},
		{errors.New("boom"), 500},
	}
	for _, c := range cases {
		if got := statusForError(c.err); got != c.want {
			t.Errorf("statusForError(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestWriteErr_IncludesDomainRejectionCode(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, domain.NewDomainRejection("STAKE_LOCKED", "position is still locked"))

	if rec.Code != 400 {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var body apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "STAKE_LOCKED" {
		t.Fatalf("expected code STAKE_LOCKED, got %q", body.Code)
	}
	if body.Error != "STAKE_LOCKED: position is still locked" {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", jsonBody(`{"email":"a@b.com","extra":"nope"}`))
	var dst struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatal("expected unknown fields to be rejected")
	}
}

func TestDecodeJSON_DecodesValidBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", jsonBody(`{"email":"a@b.com"}`))
	var dst struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(req, &dst); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if dst.Email != "a@b.com" {
		t.Fatalf("unexpected decoded value: %+v", dst)
	}
}

func TestStatusClass_BucketsByRange(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx"}
	for code, want := range cases {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
