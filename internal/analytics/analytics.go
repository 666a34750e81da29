// Package analytics derives engagement metrics from a campaign snapshot.
//
// Privacy proxies prefetch images, so a proxied recipient's open beacon says
// nothing about whether the message was actually read. The estimator assumes
// proxied recipients who clicked opened at the same click-to-open ratio as
// directly observed recipients and adds the implied hidden opens back. The
// adjusted figures are a best-effort heuristic, not a measured quantity.
package analytics

import (
	"math"

	"github.com/foxzi/beacon/internal/campaign"
)

// FallbackClickToOpen is the assumed click-to-open ratio when no direct opens exist
const FallbackClickToOpen = 0.12

// Report is the analytics answer for one campaign
type Report struct {
	TotalRecipients           int            `json:"totalRecipients"`
	TotalSent                 int            `json:"totalSent"`
	TotalOpened               int            `json:"totalOpened"`
	TotalClicked              int            `json:"totalClicked"`
	RealOpens                 int            `json:"realOpens"`
	ProxyOpens                int            `json:"proxyOpens"`
	RealClicks                int            `json:"realClicks"`
	ProxyClicks               int            `json:"proxyClicks"`
	ClickToOpenRatio          float64        `json:"clickToOpenRatio"`
	EstimatedHiddenProxyOpens int            `json:"estimatedHiddenProxyOpens"`
	AdjustedOpens             int            `json:"adjustedOpens"`
	AdjustedOpenRate          float64        `json:"adjustedOpenRate"`
	OpenRate                  float64        `json:"openRate"`
	ClickRate                 float64        `json:"clickRate"`
	LinkStats                 map[string]int `json:"linkStats"`
}

// Estimate computes the report. It does not modify c.
func Estimate(c *campaign.Campaign) Report {
	rep := Report{
		TotalRecipients: len(c.Recipients),
		TotalSent:       c.SentCount,
		LinkStats:       make(map[string]int),
	}

	for i := range c.Recipients {
		r := &c.Recipients[i]
		proxied := r.ProxyType.IsProxy()

		if r.Opened {
			rep.TotalOpened++
			if !proxied {
				rep.RealOpens++
			}
		}
		if proxied {
			rep.ProxyOpens++
		}
		if r.Clicked {
			rep.TotalClicked++
			if proxied {
				rep.ProxyClicks++
			} else {
				rep.RealClicks++
			}
		}
		for _, link := range r.ClickedLinks {
			rep.LinkStats[link]++
		}
	}

	rep.ClickToOpenRatio = FallbackClickToOpen
	if rep.RealOpens > 0 {
		rep.ClickToOpenRatio = float64(rep.RealClicks) / float64(rep.RealOpens)
	}
	if rep.ClickToOpenRatio > 0 {
		rep.EstimatedHiddenProxyOpens = int(math.Round(float64(rep.ProxyClicks) / rep.ClickToOpenRatio))
	}
	rep.AdjustedOpens = rep.RealOpens + rep.EstimatedHiddenProxyOpens

	rep.AdjustedOpenRate = percent(rep.AdjustedOpens, rep.TotalRecipients)
	rep.OpenRate = percent(rep.TotalOpened, rep.TotalRecipients)
	rep.ClickRate = percent(rep.TotalClicked, rep.TotalRecipients)

	return rep
}

// percent returns n/total*100, or 0 when total is 0
func percent(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
