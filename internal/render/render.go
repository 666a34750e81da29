// Package render personalizes campaign bodies and injects engagement tracking.
package render

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// varPattern matches {{name}} placeholders
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// hrefPattern matches double-quoted href attributes
var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// classUnsafe matches characters that may not appear in a generated class name
var classUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Input is everything needed to render one message
type Input struct {
	Body        string
	FirstName   string
	LastName    string
	CampaignID  string
	RecipientID string
	// Index is the recipient position in the list the message was rendered from
	Index int
	// Version identifies that recipient list
	Version int
	// CorrelationID ties the four open beacons of one render together
	CorrelationID string
}

// Renderer produces tracked HTML bodies
type Renderer struct {
	baseURL string
}

// New creates a renderer whose tracking links point at baseURL
func New(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the tracking base URL
func (r *Renderer) BaseURL() string {
	return r.baseURL
}

// Render substitutes name placeholders, routes links through the click
// endpoint and appends the open beacons.
func (r *Renderer) Render(in Input) string {
	body := Personalize(in.Body, in.FirstName, in.LastName)
	body = r.rewriteLinks(body, in)

	var b strings.Builder
	b.Grow(len(body) + 1024)
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(r.beacons(in))
	return b.String()
}

// Personalize replaces {{firstName}}, {{lastName}} and {Name}. Other
// placeholders are left untouched.
func Personalize(body, firstName, lastName string) string {
	vars := map[string]string{
		"firstName": firstName,
		"lastName":  lastName,
	}
	body = varPattern.ReplaceAllStringFunc(body, func(match string) string {
		if value, ok := vars[match[2:len(match)-2]]; ok {
			return value
		}
		return match
	})
	return strings.ReplaceAll(body, "{Name}", firstName)
}

// rewriteLinks points every href at the click endpoint
func (r *Renderer) rewriteLinks(body string, in Input) string {
	return hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		target := hrefPattern.FindStringSubmatch(match)[1]
		return `href="` + r.ClickURL(in, target) + `"`
	})
}

// ClickURL builds the click tracking URL for target
func (r *Renderer) ClickURL(in Input, target string) string {
	q := url.Values{}
	q.Set("url", target)
	q.Set("idx", strconv.Itoa(in.Index))
	q.Set("v", strconv.Itoa(in.Version))
	return fmt.Sprintf("%s/campaigns/track/click/%s/%s?%s",
		r.baseURL, url.PathEscape(in.CampaignID), url.PathEscape(in.RecipientID), q.Encode())
}

// OpenURL builds the open tracking URL with an optional beacon flag
func (r *Renderer) OpenURL(in Input, flag string) string {
	q := url.Values{}
	if flag != "" {
		q.Set(flag, "true")
	}
	q.Set("t", in.CorrelationID)
	return fmt.Sprintf("%s/campaigns/track/open/%s/%s?%s",
		r.baseURL, url.PathEscape(in.CampaignID), url.PathEscape(in.RecipientID), q.Encode())
}

// beacons returns the four open beacons: image, stylesheet, anchor, inline background
func (r *Renderer) beacons(in Input) string {
	class := "email-tracker-" + classUnsafe.ReplaceAllString(in.CorrelationID, "")

	var b strings.Builder
	fmt.Fprintf(&b, `<img src="%s" width="1" height="1" style="display:none;" alt="" />`+"\n",
		r.OpenURL(in, ""))
	fmt.Fprintf(&b, "<style>\n@media screen {\n.%s {\nbackground-image: url('%s');\n}\n}\n</style>\n",
		class, r.OpenURL(in, "css"))
	fmt.Fprintf(&b, `<div class="%s" style="height:0;overflow:hidden;"></div>`+"\n", class)
	fmt.Fprintf(&b, `<a href="%s" style="display:none;" aria-hidden="true">.</a>`+"\n",
		r.OpenURL(in, "link"))
	fmt.Fprintf(&b, `<div style="background:url('%s');width:0;height:0;overflow:hidden;"></div>`+"\n",
		r.OpenURL(in, "beacon"))
	return b.String()
}
