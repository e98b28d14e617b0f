package tools

import (
	"context"
	"encoding/json"
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
	fetchMaxChars    = 50000
	fetchMaxRedirect = 3
	fetchTimeout     = 30 * time.Second
	fetchUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// WebFetchTool downloads a URL and reduces it to model-readable text.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	t := &WebFetchTool{maxChars: fetchMaxChars}
	t.client = &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirect)
			}
			return checkPrivateHost(req.URL)
		},
	}
	return t
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content as markdown or plain text"
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"markdown", "text"},
				"description": "Extraction mode, default markdown",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL := argString(args, "url")
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if err := checkPrivateHost(parsed); err != nil {
		return ErrorResult(err.Error())
	}

	mode := argString(args, "mode")
	if mode != "text" {
		mode = "markdown"
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	// Read extra beyond the limit; HTML carries markup overhead that the
	// conversion strips away.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars)*4))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err))
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "application/json"):
		text = prettyJSON(body)
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		if mode == "markdown" {
			text = htmlToMarkdown(string(body))
		} else {
			text = htmlToText(string(body))
		}
	default:
		text = string(body)
	}

	truncated := false
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\nStatus: %d\n", resp.Request.URL, resp.StatusCode)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit %d chars)\n", t.maxChars)
	}
	sb.WriteString("\n")
	sb.WriteString(text)

	if resp.StatusCode >= 400 {
		return ErrorResult(sb.String())
	}
	return NewResult(sb.String())
}

// checkPrivateHost rejects URLs whose host resolves only to loopback,
// link-local, or RFC1918 addresses. Basic SSRF hygiene for a tool the model
// controls.
func checkPrivateHost(u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname in URL")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %v", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch private address %s", ip)
		}
	}
	return nil
}

func prettyJSON(body []byte) string {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	formatted, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(formatted)
}

// HTML reduction. Regex-based on purpose: good enough for agent consumption
// without pulling in a DOM parser.

var (
	reScript2 = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle2  = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reChrome  = regexp.MustCompile(`(?is)<(nav|footer|header|noscript)[\s\S]*?</(nav|footer|header|noscript)>`)
	reComment = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reHeading = regexp.MustCompile(`(?is)<h([1-6])[^>]*>([\s\S]*?)</h[1-6]>`)
	rePre     = regexp.MustCompile(`(?is)<pre[^>]*>([\s\S]*?)</pre>`)
	reCode    = regexp.MustCompile(`(?is)<code[^>]*>([\s\S]*?)</code>`)
	reAnchor  = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>([\s\S]*?)</a>`)
	reStrong  = regexp.MustCompile(`(?is)<(?:strong|b)[^>]*>([\s\S]*?)</(?:strong|b)>`)
	reEm      = regexp.MustCompile(`(?is)<(?:em|i)[^>]*>([\s\S]*?)</(?:em|i)>`)
	reLi      = regexp.MustCompile(`(?is)<li[^>]*>([\s\S]*?)</li>`)
	rePara    = regexp.MustCompile(`(?is)<(?:p|div|tr)[^>]*>`)
	reBr      = regexp.MustCompile(`(?i)<br\s*/?>`)
	reTag     = regexp.MustCompile(`<[^>]+>`)
	reBlankNL = regexp.MustCompile(`\n{3,}`)
	reSpaces  = regexp.MustCompile(`[ \t]{2,}`)
)

func htmlToMarkdown(html string) string {
	s := stripNonContent(html)

	s = reHeading.ReplaceAllStringFunc(s, func(m string) string {
		sub := reHeading.FindStringSubmatch(m)
		level := int(sub[1][0] - '0')
		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(sub[2]) + "\n"
	})
	s = rePre.ReplaceAllString(s, "\n```\n$1\n```\n")
	s = reCode.ReplaceAllString(s, "`$1`")
	s = reAnchor.ReplaceAllString(s, "[$2]($1)")
	s = reStrong.ReplaceAllString(s, "**$1**")
	s = reEm.ReplaceAllString(s, "*$1*")
	s = reLi.ReplaceAllString(s, "\n- $1")
	s = rePara.ReplaceAllString(s, "\n")
	s = reBr.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")

	return tidyText(s)
}

func htmlToText(html string) string {
	s := stripNonContent(html)
	s = reLi.ReplaceAllString(s, "\n- $1")
	s = rePara.ReplaceAllString(s, "\n")
	s = reBr.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	return tidyText(s)
}

func stripNonContent(html string) string {
	s := reScript2.ReplaceAllString(html, "")
	s = reStyle2.ReplaceAllString(s, "")
	s = reChrome.ReplaceAllString(s, "")
	return reComment.ReplaceAllString(s, "")
}

func tidyText(s string) string {
	s = decodeEntities(s)
	s = reSpaces.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = reBlankNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func decodeEntities(s string) string {
	return strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
		"&nbsp;", " ",
		"&hellip;", "...",
	).Replace(s)
}
