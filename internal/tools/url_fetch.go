package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	fetchTimeout      = 30 * time.Second
	fetchMaxRedirects = 3
	fetchMaxChars     = 50_000
)

// URLFetch downloads a page and returns its text content. Private and
// loopback addresses are refused so the model cannot probe the host network.
type URLFetch struct{}

func NewURLFetch() *URLFetch { return &URLFetch{} }

func (t *URLFetch) Name() string { return "url_fetch" }
func (t *URLFetch) Description() string {
	return "Fetch an http(s) URL and return its text content. HTML is stripped to plain text."
}
func (t *URLFetch) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *URLFetch) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(KindParameterValidation, fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult(KindParameterValidation, "only http and https URLs are supported")
	}
	if err := checkPrivateHost(parsed.Host); err != nil {
		return ErrorResult(KindParameterValidation, err.Error())
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			return checkPrivateHost(req.URL.Host)
		},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return ErrorResult(KindToolExecution, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return ErrorResult(KindNetwork, fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrorResult(KindExternalAPI, fmt.Sprintf("fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxChars*4))
	if err != nil {
		return ErrorResult(KindNetwork, fmt.Sprintf("read body: %v", err))
	}

	text := string(body)
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") {
		text = stripHTML(text)
	}
	if len(text) > fetchMaxChars {
		text = text[:fetchMaxChars] + fmt.Sprintf("\n\n[Truncated at %d chars]", fetchMaxChars)
	}
	return NewResult(fmt.Sprintf("URL: %s\nStatus: %d\n\n%s", resp.Request.URL, resp.StatusCode, text))
}

// checkPrivateHost refuses loopback, link-local and RFC1918 targets.
func checkPrivateHost(host string) error {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	if hostname == "localhost" || strings.HasSuffix(hostname, ".local") {
		return fmt.Errorf("refusing to fetch local address: %s", hostname)
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable hosts fail later with a clearer network error.
		return nil
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch private address: %s", ip)
		}
	}
	return nil
}

var (
	htmlBlockRe = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	spaceRunRe  = regexp.MustCompile(`[ \t\r\n]+`)
)

func stripHTML(s string) string {
	s = htmlBlockRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}
