package fetch

import "testing"

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "cloudflare interstitial",
			body: `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`,
			want: "cloudflare",
		},
		{
			name: "cloudflare challenge platform script",
			body: `<script src="/cdn-cgi/challenge-platform/h/b/orchestrate.js"></script>`,
			want: "cloudflare",
		},
		{
			name: "turnstile widget",
			body: `<div class="cf-turnstile" data-sitekey="xxx"></div>`,
			want: "cloudflare-turnstile",
		},
		{
			name: "hcaptcha",
			body: `<script src="https://hcaptcha.com/1/api.js"></script>`,
			want: "hcaptcha",
		},
		{
			name: "datadome",
			body: `<script src="https://ct.captcha-delivery.com/c.js"></script>`,
			want: "datadome",
		},
		{
			name: "generic access denied",
			body: `<html><h1>Access Denied</h1><p>You don't have permission.</p></html>`,
			want: "anti-bot",
		},
		{
			name: "real content",
			body: `<html><body><div class="manga-card"><a href="/manga/one-piece">One Piece</a></div></body></html>`,
			want: "",
		},
		{
			name: "empty body",
			body: "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectChallenge(tt.body); got != tt.want {
				t.Errorf("DetectChallenge() = %q, want %q", got, tt.want)
			}
		})
	}
}
