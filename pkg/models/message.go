package models

import "encoding/json"

// A single dispatched server-sent event
type RawMessage struct {
	Event string
	Data  string
	ID    string
}

// Length of the page before and after the revision in bytes. Either side may
// be absent or null, e.g. for page creations.
type Length struct {
	Old *json.Number `json:"old"`
	New *json.Number `json:"new"`
}

// Change holds the parts of a recentchange event that feed a Record. The rest
// of the payload (meta, namespace, revision, ...) is not decoded, so a field
// changing type upstream cannot reject an otherwise valid edit.
type Change struct {
	Type       string       `json:"type"`
	Timestamp  *json.Number `json:"timestamp"`
	Title      *string      `json:"title"`
	User       *string      `json:"user"`
	Bot        *bool        `json:"bot"`
	ServerName *string      `json:"server_name"`
	Length     *Length      `json:"length"`
}
