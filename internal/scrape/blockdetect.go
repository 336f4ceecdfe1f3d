package scrape

import (
	"bytes"
	"net/http"
	"strings"
)

// BlockType names the anti-bot mechanism that answered instead of the site.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockWAF        BlockType = "waf"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// bodySignature marks a block page by its content. Pages larger than maxBody
// are treated as real content that merely mentions a marker.
type bodySignature struct {
	kind    BlockType
	maxBody int
	all     []string
	any     []string
}

var bodySignatures = []bodySignature{
	{kind: BlockCloudflare, any: []string{"checking your browser", "cf-browser-verification", "cf-chl-"}},
	{kind: BlockCloudflare, all: []string{"cloudflare", "challenge"}},
	{kind: BlockWAF, maxBody: 8000, any: []string{"request unsuccessful. incapsula", "_incapsula_resource", "access denied | sucuri", "ddos-guard"}},
	{kind: BlockCaptcha, maxBody: 8000, any: []string{"captcha"}},
	{kind: BlockJSShell, maxBody: 2000, all: []string{"<noscript", "javascript"}},
	{kind: BlockJSShell, maxBody: 2000, any: []string{`meta http-equiv="refresh"`}},
}

func (s bodySignature) match(lower []byte) bool {
	if s.maxBody > 0 && len(lower) >= s.maxBody {
		return false
	}
	for _, m := range s.all {
		if !bytes.Contains(lower, []byte(m)) {
			return false
		}
	}
	if len(s.any) == 0 {
		return len(s.all) > 0
	}
	for _, m := range s.any {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

// DetectBlock reports whether resp and body are an anti-bot interstitial
// rather than the page that was asked for.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}
	if bt := headerBlock(resp); bt != BlockNone {
		return true, bt
	}

	lower := bytes.ToLower(body)
	for _, sig := range bodySignatures {
		if sig.match(lower) {
			return true, sig.kind
		}
	}
	return false, BlockNone
}

// headerBlock recognizes edge networks refusing the request outright.
func headerBlock(resp *http.Response) BlockType {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return BlockNone
	}
	h := resp.Header
	switch {
	case h.Get("Cf-Ray") != "", h.Get("Cf-Cache-Status") != "", strings.EqualFold(h.Get("Server"), "cloudflare"):
		return BlockCloudflare
	case h.Get("X-Iinfo") != "", h.Get("X-Sucuri-Id") != "", strings.EqualFold(h.Get("Server"), "ddos-guard"):
		return BlockWAF
	}
	return BlockNone
}
