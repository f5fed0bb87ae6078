package serp

import (
	"bytes"
	"net/http"
	"strings"
)

// page is the part of an HTTP response block detection looks at.
type page struct {
	status int
	header http.Header
	body   []byte
}

// Detector reports whether a response is a bot challenge or block page
// rather than real results, and which system produced it.
type Detector func(p page) (blocked bool, source string)

// DefaultDetectors returns the standard list of block detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogleSorry,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

func detect(p page, detectors []Detector) (bool, string) {
	for _, d := range detectors {
		if blocked, source := d(p); blocked {
			return true, source
		}
	}
	return false, ""
}

// detectGoogleSorry matches the "unusual traffic" interstitial, which is
// served with either a 429 or a 200 status.
func detectGoogleSorry(p page) (bool, string) {
	if bytes.Contains(p.body, []byte("/sorry/index")) ||
		bytes.Contains(p.body, []byte("unusual traffic from your computer network")) ||
		bytes.Contains(p.body, []byte("g-recaptcha")) {
		return true, "Google"
	}
	return false, ""
}

func detectCloudflare(p page) (bool, string) {
	if p.status != http.StatusForbidden && p.status != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(p.header.Get("Server")), "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(p.body, []byte("cf-browser-verification")) ||
		bytes.Contains(p.body, []byte("cf-turnstile")) ||
		bytes.Contains(p.body, []byte("Attention Required! | Cloudflare")) {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(p page) (bool, string) {
	if p.status != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(p.header.Get("Server")), "akamai") {
		return true, "Akamai"
	}
	// Akamai often returns a generic "Reference #" block page
	if bytes.Contains(p.body, []byte("Reference #")) && bytes.Contains(p.body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(p page) (bool, string) {
	if p.status != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(p.header.Get("Server")), "datadome") ||
		p.header.Get("X-DataDome") != "" ||
		bytes.Contains(p.body, []byte("geo.captcha-delivery.com")) {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(p page) (bool, string) {
	if p.status != http.StatusForbidden {
		return false, ""
	}
	if p.header.Get("X-Px-Captcha") != "" ||
		bytes.Contains(p.body, []byte("client.perimeterx.net")) ||
		bytes.Contains(p.body, []byte("px-captcha")) {
		return true, "PerimeterX"
	}
	return false, ""
}
