package model

import (
	"encoding/json"
	"time"
)

// SessionMetadata describes the visitor's page and client environment.
// The geo fields (IP, Country, City) are populated server-side and are
// preserved across reconnects: a resume never clears a known value with
// an empty one.
type SessionMetadata struct {
	URL       string `json:"url,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	PageTitle string `json:"pageTitle,omitempty"`

	UserAgent        string `json:"userAgent,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`

	IP      string `json:"ip,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`

	DeviceType string `json:"deviceType,omitempty"`
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`
}

// MergeKnownGeo carries prev's server-derived geo fields into the
// receiver. Stored values win over incoming ones; a reconnect cannot
// overwrite what the server already resolved.
func (m *SessionMetadata) MergeKnownGeo(prev *SessionMetadata) {
	if prev == nil {
		return
	}
	if prev.IP != "" {
		m.IP = prev.IP
	}
	if prev.Country != "" {
		m.Country = prev.Country
	}
	if prev.City != "" {
		m.City = prev.City
	}
}

// UserIdentity holds user-supplied identity from the widget's identify
// call. Unknown fields survive a marshal/unmarshal round trip via Extra.
type UserIdentity struct {
	ID    string         `json:"id"`
	Email string         `json:"email,omitempty"`
	Name  string         `json:"name,omitempty"`
	Extra map[string]any `json:"-"`
}

func (u UserIdentity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 3+len(u.Extra))
	for k, v := range u.Extra {
		if k == "id" || k == "email" || k == "name" {
			continue
		}
		out[k] = v
	}
	if u.ID != "" {
		out["id"] = u.ID
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	if u.Name != "" {
		out["name"] = u.Name
	}
	return json.Marshal(out)
}

func (u *UserIdentity) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if id, ok := raw["id"].(string); ok {
		u.ID = id
	}
	if email, ok := raw["email"].(string); ok {
		u.Email = email
	}
	if name, ok := raw["name"].(string); ok {
		u.Name = name
	}
	u.Extra = make(map[string]any)
	for k, v := range raw {
		if k != "id" && k != "email" && k != "name" {
			u.Extra[k] = v
		}
	}
	return nil
}

// Session is one visitor conversation. The ID is immutable once created;
// AIActive is true only while the AI is answering for this session.
type Session struct {
	ID             string           `json:"id"`
	VisitorID      string           `json:"visitorId"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastActivity   time.Time        `json:"lastActivity"`
	OperatorOnline bool             `json:"operatorOnline"`
	AIActive       bool             `json:"aiActive"`
	Metadata       *SessionMetadata `json:"metadata,omitempty"`
	Identity       *UserIdentity    `json:"identity,omitempty"`
}
