package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"telepipe/internal/notifications"
	"telepipe/internal/testsupport"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, captures *[]capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		*captures = append(*captures, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNotifyRunFailedSendsHighPriority(t *testing.T) {
	var captures []capturedRequest
	server := newCaptureServer(t, &captures)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Runs = true

	service := notifications.NewService(cfg)
	if err := service.NotifyRunFailed(context.Background(), "telegram-analytics", "scrape", "gateway unreachable"); err != nil {
		t.Fatalf("NotifyRunFailed: %v", err)
	}

	if len(captures) != 1 {
		t.Fatalf("expected 1 request, got %d", len(captures))
	}
	got := captures[0]
	if got.title != "Telepipe - Run Failed" {
		t.Errorf("title = %q", got.title)
	}
	if got.priority != "high" {
		t.Errorf("priority = %q, want high", got.priority)
	}
	if !strings.Contains(got.body, "scrape") {
		t.Errorf("body %q missing failed stage", got.body)
	}
	if !strings.Contains(got.body, "gateway unreachable") {
		t.Errorf("body %q missing error message", got.body)
	}
}

func TestNotifyRunCompletedRespectsRunsToggle(t *testing.T) {
	var captures []capturedRequest
	server := newCaptureServer(t, &captures)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Runs = false

	service := notifications.NewService(cfg)
	if err := service.NotifyRunCompleted(context.Background(), "telegram-analytics", 0); err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if len(captures) != 0 {
		t.Fatalf("expected no requests with runs disabled, got %d", len(captures))
	}
}

func TestNotifyErrorIncludesContext(t *testing.T) {
	var captures []capturedRequest
	server := newCaptureServer(t, &captures)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = true

	service := notifications.NewService(cfg)
	if err := service.NotifyError(context.Background(), errors.New("disk full"), "warehouse"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}

	if len(captures) != 1 {
		t.Fatalf("expected 1 request, got %d", len(captures))
	}
	got := captures[0]
	if !strings.Contains(got.body, "warehouse") || !strings.Contains(got.body, "disk full") {
		t.Errorf("body %q missing context or error", got.body)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic rejected", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL

	service := notifications.NewService(cfg)
	err := service.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error from 403 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error %q missing status code", err)
	}
}

func TestNoopWhenUnconfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""

	service := notifications.NewService(cfg)
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop TestNotification: %v", err)
	}
	if err := service.NotifyRunFailed(context.Background(), "p", "s", "m"); err != nil {
		t.Fatalf("noop NotifyRunFailed: %v", err)
	}
}
