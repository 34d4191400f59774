package models

// Record is the analytics row forwarded to the ingestion endpoint. All fields
// are always serialized; nil pointers encode as null.
type Record struct {
	Timestamp     string  `json:"timestamp"`
	Title         *string `json:"title"`
	User          *string `json:"user"`
	IsBot         bool    `json:"is_bot"`
	ServerName    *string `json:"server_name"`
	EditSizeBytes int     `json:"edit_size_bytes"`
	CountryCode   *string `json:"country_code"`
}
