package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chathub/internal/apperr"
)

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-1" {
			t.Errorf("missing auth header, got %q", got)
		}
		w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
	}))
	defer srv.Close()

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	c := NewClient(5 * time.Second)
	err := c.Do(context.Background(), srv.URL, Endpoint{
		Path:   "/models",
		Header: map[string]string{"Authorization": "Bearer sk-1"},
	}, &out)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(out.Data) != 1 || out.Data[0].ID != "gpt-4o" {
		t.Fatalf("unexpected payload %+v", out)
	}
}

func TestDoStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	err := c.Do(context.Background(), srv.URL, Endpoint{Path: "/models"}, nil)
	if apperr.KindOf(err) != apperr.KindServerError {
		t.Fatalf("expected server error kind, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500 on error, got %+v", ae)
	}
}

func TestDoUnauthorizedAndRateLimited(t *testing.T) {
	for status, kind := range map[int]apperr.Kind{
		http.StatusUnauthorized:    apperr.KindUnauthorized,
		http.StatusTooManyRequests: apperr.KindRateLimited,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		c := NewClient(5 * time.Second)
		err := c.Do(context.Background(), srv.URL, Endpoint{Path: "/x"}, nil)
		if apperr.KindOf(err) != kind {
			t.Errorf("status %d: expected kind %s, got %v", status, kind, err)
		}
		srv.Close()
	}
}

func TestDoDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]any
	c := NewClient(5 * time.Second)
	err := c.Do(context.Background(), srv.URL, Endpoint{Path: "/x"}, &out)
	if apperr.KindOf(err) != apperr.KindDecodingFailed {
		t.Fatalf("expected decoding error, got %v", err)
	}
}

func TestDoConnectionFailure(t *testing.T) {
	c := NewClient(500 * time.Millisecond)
	err := c.Do(context.Background(), "http://127.0.0.1:1", Endpoint{Path: "/x"}, nil)
	k := apperr.KindOf(err)
	if k != apperr.KindConnectionFailed && k != apperr.KindTimeout {
		t.Fatalf("expected connection or timeout kind, got %v", err)
	}
}

func TestDoEmptyBaseURL(t *testing.T) {
	c := NewClient(time.Second)
	err := c.Do(context.Background(), "  ", Endpoint{Path: "/x"}, nil)
	if apperr.KindOf(err) != apperr.KindInvalidURL {
		t.Fatalf("expected invalid url, got %v", err)
	}
}
