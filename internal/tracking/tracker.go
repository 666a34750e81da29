// Package tracking records open and click events against campaign recipients.
package tracking

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/metrics"
	"github.com/foxzi/beacon/internal/storage"
)

// Store is the persistence needed by the tracker
type Store interface {
	RecordOpen(ctx context.Context, id, recipientID string, proxy campaign.ProxyType, at time.Time) (bool, error)
	RecordClick(ctx context.Context, id string, ref storage.RecipientRef, url string, at time.Time) (*campaign.Recipient, campaign.ClickChange, error)
	MarkOpenedByEmail(ctx context.Context, id, userID, email string, at time.Time) (*campaign.Recipient, bool, error)
}

// ErrURLRequired is returned when a click carries no destination
var ErrURLRequired = campaign.NewValidationError("url", "is required")

// ErrUnsafeURL is returned for destinations with a script or local-data scheme
var ErrUnsafeURL = campaign.NewValidationError("url", "scheme not allowed")

// transparentPNG is a 1x1 transparent PNG
const transparentPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAAC0lEQVR42mNgAAIAAAUAAen63NgAAAAASUVORK5CYII="

var pixel = mustDecodePixel()

func mustDecodePixel() []byte {
	data, err := base64.StdEncoding.DecodeString(transparentPNG)
	if err != nil {
		panic(err)
	}
	return data
}

// Pixel returns the open beacon image body
func Pixel() []byte {
	return pixel
}

var (
	appleMailPattern   = regexp.MustCompile(`(?i)apple`)
	googleProxyPattern = regexp.MustCompile(`(?i)googleimageproxy`)
)

// ClassifyProxy detects privacy proxies from the fetching user agent.
// Google's image proxy wins when both signatures are present.
func ClassifyProxy(userAgent string) campaign.ProxyType {
	proxy := campaign.ProxyNone
	if appleMailPattern.MatchString(userAgent) {
		proxy = campaign.ProxyAppleMail
	}
	if googleProxyPattern.MatchString(userAgent) {
		proxy = campaign.ProxyGoogleImageProxy
	}
	return proxy
}

// Tracker records engagement events
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a tracker
func New(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RecordOpen records the first open of a recipient. Repeated opens are no-ops.
func (t *Tracker) RecordOpen(ctx context.Context, campaignID, recipientID, userAgent string) (campaign.ProxyType, error) {
	proxy := ClassifyProxy(userAgent)

	changed, err := t.store.RecordOpen(ctx, campaignID, recipientID, proxy, t.now())
	if err != nil {
		return proxy, err
	}

	if changed {
		metrics.IncOpens(string(proxy))
		t.logger.Debug("open recorded",
			"campaign_id", campaignID,
			"recipient_id", recipientID,
			"proxy_type", proxy,
		)
	}
	return proxy, nil
}

// Click is a click event as received from a tracked link
type Click struct {
	CampaignID  string
	RecipientID string
	// Index and Version come from the idx and v link parameters; Index is -1 when absent
	Index   int
	Version int
	URL     string
}

// RecordClick records a click and returns the destination to redirect to.
// Validation errors are returned before any lookup. Store failures other than
// not-found are logged and swallowed so the redirect still happens.
func (t *Tracker) RecordClick(ctx context.Context, click Click) (string, error) {
	target, err := Destination(click.URL)
	if err != nil {
		return "", err
	}

	ref := storage.RecipientRef{ID: click.RecipientID, Index: click.Index, Version: click.Version}
	_, change, err := t.store.RecordClick(ctx, click.CampaignID, ref, target, t.now())
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrRecipientNotFound):
		return "", err
	case err != nil:
		t.logger.Error("failed to record click",
			"campaign_id", click.CampaignID,
			"recipient_id", click.RecipientID,
			"error", err,
		)
		return target, nil
	}

	if change.Clicked {
		metrics.IncClicks()
	}
	if change.Changed() {
		t.logger.Debug("click recorded",
			"campaign_id", click.CampaignID,
			"recipient_id", click.RecipientID,
			"url", target,
		)
	}
	return target, nil
}

// RecordTestOpen marks a recipient opened by address on behalf of the owner
func (t *Tracker) RecordTestOpen(ctx context.Context, campaignID, userID, email string) (*campaign.Recipient, error) {
	if strings.TrimSpace(email) == "" {
		return nil, campaign.NewValidationError("email", "is required")
	}
	r, changed, err := t.store.MarkOpenedByEmail(ctx, campaignID, userID, email, t.now())
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.IncOpens(string(campaign.ProxyNone))
	}
	return r, nil
}

// blockedSchemes may run script or read local data in the clicking client
var blockedSchemes = map[string]bool{"javascript": true, "vbscript": true, "data": true, "file": true}

// Destination decodes a click destination. Values that are still
// percent-encoded after query decoding are decoded once more. Links written
// without a scheme but starting with a host name get http:// so they leave
// the tracking host; other relative links are returned unchanged.
func Destination(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrURLRequired
	}
	if !strings.Contains(raw, ":") && strings.Contains(raw, "%") {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}
	}

	u, err := url.Parse(raw)
	if err != nil || strings.Contains(u.Scheme, ".") {
		if looksLikeHost(raw) {
			return "http://" + raw, nil
		}
		if err != nil {
			return "", campaign.NewValidationError("url", fmt.Sprintf("invalid: %v", err))
		}
	}
	if blockedSchemes[strings.ToLower(u.Scheme)] {
		return "", ErrUnsafeURL
	}
	if u.Scheme == "" && looksLikeHost(raw) {
		return "http://" + raw, nil
	}
	return raw, nil
}

// looksLikeHost reports whether a schemeless link starts with a dotted host
// name such as www.example.com/page
func looksLikeHost(raw string) bool {
	if raw == "" || strings.ContainsAny(raw[:1], "/.#?") {
		return false
	}
	host := raw
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if !strings.Contains(host, ".") || strings.HasSuffix(host, ".") {
		return false
	}
	for _, r := range host {
		if !(r == '.' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
