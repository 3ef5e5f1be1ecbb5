package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// WebhookEvent is the original outbound event a delivery was created for.
type WebhookEvent struct {
	ID        string
	WebhookID string
	OrgID     *string
	Platform  string
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

var orgIDKeys = []string{"org_id", "orgId", "organization_id"}

// OrgIDFromPayload looks for a tenant id at the top level of a JSON object payload,
// then under a nested "data" object. Non-object payloads yield false.
func OrgIDFromPayload(payload json.RawMessage) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", false
	}

	if orgID, ok := orgIDFromDoc(doc); ok {
		return orgID, true
	}

	nested, ok := doc["data"]
	if !ok {
		return "", false
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(nested, &data); err != nil {
		return "", false
	}
	return orgIDFromDoc(data)
}

func orgIDFromDoc(doc map[string]json.RawMessage) (string, bool) {
	for _, key := range orgIDKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, true
			}
			continue
		}

		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			return n.String(), true
		}
	}
	return "", false
}
