package proxyerr

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKindStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNoBackendsConfigured, http.StatusBadGateway},
		{KindBackendNotFound, http.StatusBadGateway},
		{KindBackendNotConfigured, http.StatusBadGateway},
		{KindConnectionError, http.StatusBadGateway},
		{KindRequestTimeout, http.StatusGatewayTimeout},
		{KindIdleTimeout, http.StatusGatewayTimeout},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(string(c.kind), func(t *testing.T) {
			if got := c.kind.Status(); got != c.want {
				t.Errorf("Status() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestWriteHTTP(t *testing.T) {
	e := New(KindBackendNotFound, "no such backend").WithRequestID("req-123")
	rec := httptest.NewRecorder()
	e.WriteHTTP(rec)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	body := rec.Body.String()
	for _, want := range []string{`"type":"error"`, `"type":"backend_not_found"`, `"request_id":"req-123"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	e := Wrap(KindConnectionError, cause, "upstream unreachable")
	if !errors.Is(e, cause) {
		t.Fatalf("errors.Is(e, cause) = false, want true")
	}
	var pe *Error
	if !errors.As(e, &pe) {
		t.Fatalf("errors.As failed to unwrap *Error")
	}
	if pe.Kind != KindConnectionError {
		t.Errorf("Kind = %s, want %s", pe.Kind, KindConnectionError)
	}
}
