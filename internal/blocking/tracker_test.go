package blocking

import "testing"

func TestDetectCaptcha(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"cloudflare challenge", `<div class="cf-browser-verification">Checking your browser...</div>`, true},
		{"recaptcha widget", `<div class="g-recaptcha" data-sitekey="x"></div>`, true},
		{"plain content page", `<article><h1>Getting started</h1><p>Install the CLI.</p></article>`, false},
		{"empty html", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := DetectCaptcha(tt.html)
			if got != tt.want {
				t.Errorf("DetectCaptcha(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDetectLoginRedirect(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		locationHeader string
		want           bool
	}{
		{"location header to login", "", "https://example.com/login?next=/docs", true},
		{"url itself is login page", "https://example.com/auth/signin", "", true},
		{"location header takes priority over url", "https://example.com/docs", "https://example.com/sso", true},
		{"normal content url", "https://example.com/docs/guide", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLoginRedirect(tt.url, tt.locationHeader); got != tt.want {
				t.Errorf("DetectLoginRedirect(%q, %q) = %v, want %v", tt.url, tt.locationHeader, got, tt.want)
			}
		})
	}
}

func TestTrackerEvidence(t *testing.T) {
	tr := NewTracker()
	tr.Record("https://example.com/a", 200, "<p>content</p>", "", "sha256:aaa")
	tr.Record("https://example.com/b", 200, "<p>content</p>", "", "sha256:aaa")
	tr.Record("https://example.com/c", 429, "", "", "")
	tr.Record("https://example.com/d", 403, "", "", "")

	ev := tr.Evidence()
	if ev.TotalResponses != 4 {
		t.Errorf("TotalResponses = %d, want 4", ev.TotalResponses)
	}
	if got := tr.StatusCodeRatio(429); got != 0.25 {
		t.Errorf("StatusCodeRatio(429) = %v, want 0.25", got)
	}
	if got := tr.DuplicateRatio(); got != 0.5 {
		t.Errorf("DuplicateRatio() = %v, want 0.5 (1 unique hash out of 2 recorded)", got)
	}
}

func TestTrackerEvidenceCapsSamplesAndSignatures(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 10; i++ {
		tr.Record("https://example.com/captcha", 200, `<div class="g-recaptcha"></div>`, "", "")
	}
	ev := tr.Evidence()
	if len(ev.SampleURLs) > 5 {
		t.Errorf("SampleURLs len = %d, want <= 5", len(ev.SampleURLs))
	}
	if len(ev.SignatureHits) > 10 {
		t.Errorf("SignatureHits len = %d, want <= 10", len(ev.SignatureHits))
	}
	if ev.CaptchaHits != 10 {
		t.Errorf("CaptchaHits = %d, want 10", ev.CaptchaHits)
	}
}
