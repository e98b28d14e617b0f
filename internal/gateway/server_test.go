package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no allowlist passes everything", nil, "https://evil.example", true},
		{"empty origin passes", []string{"https://app.example"}, "", true},
		{"listed origin passes", []string{"https://app.example"}, "https://app.example", true},
		{"unlisted origin rejected", []string{"https://app.example"}, "https://evil.example", false},
		{"wildcard passes everything", []string{"*"}, "https://anything.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{AllowedOrigins: tt.allowed}, nil, nil, nil)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestExternalSourceRe(t *testing.T) {
	valid := []string{"external:cron", "external:email-gateway", "external:a"}
	invalid := []string{"cron", "external:", "external: cron", "external:with space", "user"}

	for _, s := range valid {
		if !externalSourceRe.MatchString(s) {
			t.Errorf("%q rejected", s)
		}
	}
	for _, s := range invalid {
		if externalSourceRe.MatchString(s) {
			t.Errorf("%q accepted", s)
		}
	}
}

func TestHandleInject_Validation(t *testing.T) {
	s := NewServer(Options{}, nil, nil, nil)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{not json", http.StatusBadRequest},
		{"bad source", http.MethodPost, `{"source":"cron","content":"x"}`, http.StatusBadRequest},
		{"empty content", http.MethodPost, `{"source":"external:cron","content":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/inject", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.handleInject(w, r)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(Options{}, nil, nil, nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"protocol_version":1`) {
		t.Errorf("body = %s", body)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rl := NewRateLimiter(0)
		for i := 0; i < 100; i++ {
			if !rl.Allow() {
				t.Fatal("disabled limiter refused a request")
			}
		}
	})

	t.Run("burst then refusal", func(t *testing.T) {
		rl := NewRateLimiter(60) // one per second, burst 5
		allowed := 0
		for i := 0; i < 20; i++ {
			if rl.Allow() {
				allowed++
			}
		}
		if allowed < rateLimitBurst || allowed > rateLimitBurst+1 {
			t.Errorf("allowed %d of 20, want about the burst size", allowed)
		}
	})
}
