package blockpage

import (
	"net/http"
	"testing"
)

func TestDetectGoogleCaptcha(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		blocked bool
	}{
		{"429 status", 429, "", true},
		{"unusual traffic body", 200, "<html>Our systems have detected unusual traffic from your computer</html>", true},
		{"recaptcha widget", 200, `<div class="g-recaptcha"></div>`, true},
		{"normal serp", 200, `<div id="search"><div class="g"></div></div>`, false},
	}
	for _, tt := range tests {
		source, blocked := Detect(tt.status, http.Header{}, []byte(tt.body), DefaultDetectors())
		if blocked != tt.blocked {
			t.Errorf("%s: blocked = %v, want %v", tt.name, blocked, tt.blocked)
		}
		if blocked && source != "google" {
			t.Errorf("%s: source = %q, want google", tt.name, source)
		}
	}
}

func TestDetectCloudflare(t *testing.T) {
	header := http.Header{}
	header.Set("Server", "cloudflare")
	if source, blocked := Detect(403, header, nil, DefaultDetectors()); !blocked || source != "cloudflare" {
		t.Errorf("server header: source=%q blocked=%v", source, blocked)
	}

	body := []byte(`<title>Attention Required! | Cloudflare</title>`)
	if source, blocked := Detect(503, http.Header{}, body, DefaultDetectors()); !blocked || source != "cloudflare" {
		t.Errorf("body signature: source=%q blocked=%v", source, blocked)
	}

	// Signatures only count on block status codes.
	if _, blocked := Detect(200, header, body, DefaultDetectors()); blocked {
		t.Error("200 response flagged as cloudflare block")
	}
}

func TestDetectAkamai(t *testing.T) {
	body := []byte(`Access Denied. Reference #18.a4c2: you do not have permission`)
	if source, blocked := Detect(403, http.Header{}, body, DefaultDetectors()); !blocked || source != "akamai" {
		t.Errorf("source=%q blocked=%v", source, blocked)
	}
}

func TestDetectDataDome(t *testing.T) {
	header := http.Header{}
	header.Set("X-DataDome", "protected")
	if source, blocked := Detect(403, header, nil, DefaultDetectors()); !blocked || source != "datadome" {
		t.Errorf("header: source=%q blocked=%v", source, blocked)
	}
}

func TestDetectCleanResponse(t *testing.T) {
	if source, blocked := Detect(200, http.Header{}, []byte("<html>fine</html>"), DefaultDetectors()); blocked {
		t.Errorf("clean response blocked as %q", source)
	}
}
