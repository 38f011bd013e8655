// Package blockpage classifies HTTP responses that are bot walls rather
// than real content. The scrape provider runs every response through it
// so a challenge page is reported as throttling instead of being parsed
// as an empty SERP.
package blockpage

import (
	"bytes"
	"net/http"
	"strings"
)

// Detector inspects one response and reports the blocking system when it
// recognizes one.
type Detector func(status int, header http.Header, body []byte) (source string, blocked bool)

// DefaultDetectors returns the detectors run against scrape responses, in
// order. Google's own interstitial comes first since it is by far the most
// common for SERP scraping.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogleCaptcha,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
	}
}

// Detect runs the response through the detectors and returns the first
// match.
func Detect(status int, header http.Header, body []byte, detectors []Detector) (string, bool) {
	for _, d := range detectors {
		if source, blocked := d(status, header, body); blocked {
			return source, true
		}
	}
	return "", false
}

// detectGoogleCaptcha recognizes Google's "unusual traffic" interstitial.
// Google serves it with 429 or redirects to /sorry; the body form is the
// reliable signal when neither happens.
func detectGoogleCaptcha(status int, header http.Header, body []byte) (string, bool) {
	if status == http.StatusTooManyRequests {
		return "google", true
	}
	if bytes.Contains(body, []byte("Our systems have detected unusual traffic")) ||
		bytes.Contains(body, []byte("/sorry/index")) ||
		bytes.Contains(body, []byte("g-recaptcha")) {
		return "google", true
	}
	return "", false
}

// detectCloudflare recognizes Cloudflare challenge and block pages, seen
// when scraping goes through a proxy fronted by Cloudflare.
func detectCloudflare(status int, header http.Header, body []byte) (string, bool) {
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return "", false
	}
	if strings.Contains(strings.ToLower(header.Get("Server")), "cloudflare") {
		return "cloudflare", true
	}
	if bytes.Contains(body, []byte("cf-browser-verification")) ||
		bytes.Contains(body, []byte("cf-turnstile")) ||
		bytes.Contains(body, []byte("Attention Required! | Cloudflare")) {
		return "cloudflare", true
	}
	return "", false
}

func detectAkamai(status int, header http.Header, body []byte) (string, bool) {
	if status != http.StatusForbidden {
		return "", false
	}
	if strings.Contains(strings.ToLower(header.Get("Server")), "akamai") {
		return "akamai", true
	}
	if bytes.Contains(body, []byte("Reference #")) && bytes.Contains(body, []byte("Access Denied")) {
		return "akamai", true
	}
	return "", false
}

func detectDataDome(status int, header http.Header, body []byte) (string, bool) {
	if status != http.StatusForbidden {
		return "", false
	}
	if header.Get("X-DataDome") != "" || header.Get("X-DataDome-Response") != "" {
		return "datadome", true
	}
	if bytes.Contains(body, []byte("geo.captcha-delivery.com")) {
		return "datadome", true
	}
	return "", false
}
