package models

import (
	"path"
	"strings"
)

// DisplayContext describes where and how a popup would be rendered.
type DisplayContext struct {
	// Page is the path or URL of the page the visitor is on.
	Page string `json:"page,omitempty" yaml:"page,omitempty"`

	Referrer string `json:"referrer,omitempty" yaml:"referrer,omitempty"`

	// Device is a coarse device class: desktop, mobile, tablet.
	Device string `json:"device,omitempty" yaml:"device,omitempty"`

	Locale string `json:"locale,omitempty" yaml:"locale,omitempty"`

	// Attributes carries caller-defined fields for extensibility.
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Matches checks if this context satisfies every condition in predicate.
// An empty predicate always matches.
func (c DisplayContext) Matches(predicate map[string]interface{}) bool {
	for key, required := range predicate {
		if !matchValue(c.GetField(key), required) {
			return false
		}
	}
	return true
}

// GetField retrieves a field value by name. Unknown names fall through to Attributes.
func (c DisplayContext) GetField(key string) interface{} {
	switch key {
	case "page", "url", "path":
		return c.Page
	case "referrer", "referer":
		return c.Referrer
	case "device":
		return c.Device
	case "locale", "lang":
		return c.Locale
	default:
		if v, ok := c.Attributes[key]; ok {
			return v
		}
		return nil
	}
}

// Clone returns a copy that shares no maps with c.
func (c DisplayContext) Clone() DisplayContext {
	if c.Attributes == nil {
		return c
	}
	attrs := make(map[string]string, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	c.Attributes = attrs
	return c
}

// matchValue checks if an actual value matches a required value.
// Supports exact match, list membership and glob patterns.
func matchValue(actual interface{}, required interface{}) bool {
	actualStr, ok := actual.(string)
	if !ok || actualStr == "" {
		return false
	}

	switch req := required.(type) {
	case string:
		if strings.ContainsAny(req, "*?[") {
			matched, _ := path.Match(req, actualStr)
			return matched
		}
		return actualStr == req

	case []interface{}:
		for _, option := range req {
			if optStr, ok := option.(string); ok && matchValue(actualStr, optStr) {
				return true
			}
		}
		return false

	case []string:
		for _, option := range req {
			if matchValue(actualStr, option) {
				return true
			}
		}
		return false

	default:
		return false
	}
}
