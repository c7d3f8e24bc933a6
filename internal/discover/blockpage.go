package discover

import (
	"regexp"
	"strings"
)

// Bodies are truncated before regex matching to keep pathological pages cheap.
const maxBodyLenForMatch = 100 * 1024

// blockReason categorizes why a target refused the plain HTTP fetch.
type blockReason string

const (
	blockRateLimit    blockReason = "rate_limit"
	blockAccessDenied blockReason = "access_denied"
	blockChallenge    blockReason = "challenge"
	blockGeo          blockReason = "geo_blocked"
)

// blockInfo describes a detected bot-mitigation response. Escalate reports
// whether a real browser might still get through; geo restrictions will
// refuse the browser too.
type blockInfo struct {
	Blocked bool
	Code    string
	Reason  blockReason
}

func (b blockInfo) Escalate() bool {
	return b.Blocked && b.Reason != blockGeo
}

// cfErrorCode matches Cloudflare error pages, which embed a numeric code in
// the markup. [^<]{0,N} instead of .{0,N} keeps backtracking bounded on HTML.
var cfErrorCode = regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}(10(?:06|07|08|09|10|12|15|20))`)

var cfCodeReasons = map[string]blockReason{
	"1006": blockAccessDenied,
	"1007": blockAccessDenied,
	"1008": blockAccessDenied,
	"1009": blockGeo,
	"1010": blockAccessDenied,
	"1012": blockAccessDenied,
	"1015": blockRateLimit,
	"1020": blockAccessDenied,
}

// genericPatterns cover non-Cloudflare mitigation pages, ordered most
// specific first so the first match wins.
var genericPatterns = []struct {
	pattern *regexp.Regexp
	code    string
	reason  blockReason
}{
	{regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`), "TOO_MANY_REQUESTS", blockRateLimit},
	{regexp.MustCompile(`(?i)rate\s{0,3}limit`), "RATE_LIMITED", blockRateLimit},
	{regexp.MustCompile(`(?i)access\s{1,5}denied`), "ACCESS_DENIED", blockAccessDenied},
	{regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`), "BLOCKED", blockAccessDenied},
	{regexp.MustCompile(`(?i)(captcha|hcaptcha|recaptcha|challenge)`), "CHALLENGE", blockChallenge},
}

// detectBlockPage decides whether a refused response is bot mitigation
// rather than a genuinely missing page. Status codes give a baseline;
// body patterns refine it.
func detectBlockPage(statusCode int, body string) blockInfo {
	if len(body) > maxBodyLenForMatch {
		body = body[:maxBodyLenForMatch]
	}

	var info blockInfo
	switch statusCode {
	case 429:
		info = blockInfo{Blocked: true, Code: "HTTP_429", Reason: blockRateLimit}
	case 503:
		info = blockInfo{Blocked: true, Code: "HTTP_503", Reason: blockRateLimit}
	}

	if m := cfErrorCode.FindStringSubmatch(body); m != nil {
		return blockInfo{Blocked: true, Code: "CF_" + m[1], Reason: cfCodeReasons[m[1]]}
	}

	for _, p := range genericPatterns {
		if p.pattern.MatchString(body) {
			return blockInfo{Blocked: true, Code: p.code, Reason: p.reason}
		}
	}

	// Cloudflare serves bare 403s without a code when a browser check fails.
	if statusCode == 403 && strings.Contains(strings.ToLower(body), "cloudflare") {
		return blockInfo{Blocked: true, Code: "CF_403", Reason: blockAccessDenied}
	}

	return info
}
