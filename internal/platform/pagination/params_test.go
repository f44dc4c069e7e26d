package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRequestDefaultsAndClamp(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders", nil)
	params, err := ParseRequest(req)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" {
		t.Fatalf("unexpected defaults %+v", params)
	}

	req = httptest.NewRequest("GET", "/orders?pageSize=500", nil)
	params, err = ParseRequest(req)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if params.PageSize != DefaultMaxPageSize {
		t.Fatalf("expected clamp to %d, got %d", DefaultMaxPageSize, params.PageSize)
	}
}

func TestParseRequestRejectsBadInput(t *testing.T) {
	for _, target := range []string{"/orders?pageSize=abc", "/orders?pageSize=-1", "/orders?pageToken=%25%25"} {
		if _, err := ParseRequest(httptest.NewRequest("GET", target, nil)); err == nil {
			t.Fatalf("%s: expected error", target)
		}
	}
}

func TestTokenRoundTripAndOrdering(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: at, ID: "ord_b"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !cursor.CreatedAt.Equal(at) || cursor.ID != "ord_b" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
	if !cursor.After(at, "ord_a") || cursor.After(at, "ord_c") {
		t.Fatalf("ties must break on id descending")
	}
	if !cursor.After(at.Add(-time.Second), "ord_z") || cursor.After(at.Add(time.Second), "ord_a") {
		t.Fatalf("older items sort after newer ones")
	}
	if _, err := DecodeToken("not-base64!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
