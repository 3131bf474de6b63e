package fetch

import "strings"

// DetectChallenge checks whether a response body is a bot-challenge or
// interstitial page rather than real content. Challenge pages frequently
// arrive with a misleading 200 status, so this runs on every body regardless
// of status code. Returns the challenge type, or "" for real content.
func DetectChallenge(body string) string {
	lower := strings.ToLower(body)

	// Cloudflare challenges
	if strings.Contains(lower, "just a moment") ||
		strings.Contains(lower, "attention required") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") ||
		strings.Contains(lower, "cf_chl_opt") ||
		strings.Contains(lower, "/cdn-cgi/challenge-platform/") {
		return "cloudflare"
	}

	// Cloudflare Turnstile
	if strings.Contains(lower, "challenges.cloudflare.com/turnstile") ||
		strings.Contains(lower, "cf-turnstile") {
		return "cloudflare-turnstile"
	}

	// hCaptcha
	if strings.Contains(lower, "hcaptcha.com") ||
		strings.Contains(lower, "h-captcha") {
		return "hcaptcha"
	}

	// reCAPTCHA interstitials (not ordinary pages embedding a recaptcha form)
	if strings.Contains(lower, "google.com/recaptcha/api2/anchor") {
		return "recaptcha"
	}

	// DataDome
	if strings.Contains(lower, "captcha-delivery.com") ||
		strings.Contains(lower, "datadome") {
		return "datadome"
	}

	// Generic bot detection pages
	if strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "bot detection") ||
		strings.Contains(lower, "robot or human") {
		return "anti-bot"
	}

	return ""
}
