//go:build !integration

package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cineai/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		kind   error
		trip   bool
	}{
		{429, domain.ErrRateLimited, true},
		{401, domain.ErrAuthentication, true},
		{403, domain.ErrAuthentication, true},
		{504, domain.ErrTimeout, false},
		{422, domain.ErrProviderRejected, false},
		{500, domain.ErrProviderFailure, false},
	}
	for _, tc := range cases {
		pe := ClassifyStatus("p", tc.status, []byte(" detail "))
		if !errors.Is(pe, tc.kind) || pe.Trip != tc.trip || pe.Msg != "detail" {
			t.Fatalf("status %d: %+v", tc.status, pe)
		}
	}
}

func TestClassifyTransport(t *testing.T) {
	t.Parallel()
	if err := ClassifyTransport("p", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancel should pass through: %v", err)
	}
	if err := ClassifyTransport("p", context.DeadlineExceeded); !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("deadline: %v", err)
	}
	if err := ClassifyTransport("p", errors.New("connection refused")); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("transport: %v", err)
	}
}

func TestParseSSE(t *testing.T) {
	t.Parallel()
	in := ": keepalive\n\nevent: delta\ndata: {\"a\":1}\n\ndata: line1\ndata: line2\n\ndata: [DONE]"
	var got []Event
	if err := ParseSSE(strings.NewReader(in), func(e Event) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 3 || got[0].Event != "delta" || got[1].Data != "line1\nline2" || got[2].Data != "[DONE]" {
		t.Fatalf("events = %+v", got)
	}
}

func TestClient_DoJSONMapsErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"id":"42"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := New("vendor", srv.URL+"/", time.Second, map[string]string{"X-Api-Key": "k"})
	var out struct{ ID string }
	if err := c.DoJSON(context.Background(), http.MethodPost, "/ok", map[string]string{"a": "b"}, &out); err != nil || out.ID != "42" {
		t.Fatalf("ok: %v %+v", err, out)
	}
	if err := c.DoJSON(context.Background(), http.MethodGet, "/garbage", nil, &out); !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("garbage: %v", err)
	}
	if err := c.DoJSON(context.Background(), http.MethodGet, "/busy", nil, &out); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("busy: %v", err)
	}
	bad := New("vendor", srv.URL, time.Second, nil)
	if err := bad.DoJSON(context.Background(), http.MethodGet, "/ok", nil, &out); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("auth: %v", err)
	}
}
