package blocking

import (
	"testing"

	"github.com/ternarybob/crawlservice/internal/models"
)

func TestClassify(t *testing.T) {
	thresholds := Thresholds{Rate429: 0.3, Rate403: 0.3, Duplicate: 0.6}

	tests := []struct {
		name string
		ev   Evidence
		want models.SiteStatus
	}{
		{
			name: "no responses yet is unknown",
			ev:   Evidence{},
			want: models.SiteStatusUnknown,
		},
		{
			name: "captcha hit wins over everything else",
			ev:   Evidence{TotalResponses: 10, CaptchaHits: 1, StatusCodes: map[int]int{403: 10}},
			want: models.SiteStatusBlocked,
		},
		{
			name: "majority login redirects",
			ev:   Evidence{TotalResponses: 10, LoginRedirects: 6, StatusCodes: map[int]int{200: 10}},
			want: models.SiteStatusLoginRequired,
		},
		{
			name: "excessive 429 rate",
			ev:   Evidence{TotalResponses: 10, StatusCodes: map[int]int{429: 4, 200: 6}},
			want: models.SiteStatusThrottled,
		},
		{
			name: "excessive 403 rate",
			ev:   Evidence{TotalResponses: 10, StatusCodes: map[int]int{403: 4, 200: 6}},
			want: models.SiteStatusBlocked,
		},
		{
			name: "duplicate content ratio",
			ev:   Evidence{TotalResponses: 10, DuplicateRatio: 0.7, StatusCodes: map[int]int{200: 10}},
			want: models.SiteStatusBlocked,
		},
		{
			name: "normal crawl",
			ev:   Evidence{TotalResponses: 10, StatusCodes: map[int]int{200: 10}},
			want: models.SiteStatusNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ev, thresholds)
			if got.SiteStatus != tt.want {
				t.Errorf("Classify() status = %v, want %v", got.SiteStatus, tt.want)
			}
		})
	}
}

func TestShouldStopCrawl(t *testing.T) {
	tests := []struct {
		status models.SiteStatus
		want   bool
	}{
		{models.SiteStatusBlocked, true},
		{models.SiteStatusLoginRequired, true},
		{models.SiteStatusThrottled, false},
		{models.SiteStatusNormal, false},
	}
	for _, tt := range tests {
		if got := ShouldStopCrawl(tt.status); got != tt.want {
			t.Errorf("ShouldStopCrawl(%v) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestEvidenceToModel(t *testing.T) {
	ev := Evidence{
		TotalResponses: 5,
		StatusCodes:    map[int]int{200: 4, 429: 1},
		SignatureHits:  []string{"cf-challenge", "cf-challenge", "g-recaptcha"},
	}
	m := ev.ToModel()
	if m.TotalResponses != 5 {
		t.Errorf("TotalResponses = %d, want 5", m.TotalResponses)
	}
	if m.SignatureHits["cf-challenge"] != 2 {
		t.Errorf("SignatureHits[cf-challenge] = %d, want 2", m.SignatureHits["cf-challenge"])
	}
	if m.SignatureHits["g-recaptcha"] != 1 {
		t.Errorf("SignatureHits[g-recaptcha] = %d, want 1", m.SignatureHits["g-recaptcha"])
	}
}
