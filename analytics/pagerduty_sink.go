package analytics

import (
	"fmt"

	"github.com/alfred-ai/netctl/observability"
)

// PagerDutySink adapts an observability.PagerDutyClient into an
// AlertSink, mapping Alert payloads onto the same Events API v2
// trigger/resolve calls used for infrastructure incidents.
type PagerDutySink struct {
	client *observability.PagerDutyClient
}

// NewPagerDutySink wraps client as an AlertSink.
func NewPagerDutySink(client *observability.PagerDutyClient) *PagerDutySink {
	return &PagerDutySink{client: client}
}

func (s *PagerDutySink) Page(a Alert) error {
	sev := observability.PDSeverityWarning
	if a.Severity == AlertSeverityCritical {
		sev = observability.PDSeverityCritical
	}
	return s.client.TriggerAlert(
		sev,
		a.Summary,
		dedupKey(a),
		map[string]interface{}{
			"rule":     string(a.Rule),
			"endpoint": a.Endpoint,
		},
	)
}

func (s *PagerDutySink) Resolve(a Alert) error {
	return s.client.ResolveAlert(dedupKey(a))
}

func dedupKey(a Alert) string {
	return fmt.Sprintf("analytics-%s-%s", a.Rule, a.Endpoint)
}
