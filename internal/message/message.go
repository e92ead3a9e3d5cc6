package message

import "encoding/json"

// Message is the canonical, schema-stable record for one exported message.
type Message struct {
	ID                string          `json:"id"`
	Timestamp         Timestamp       `json:"timestamp"`
	TimestampUnparsed bool            `json:"timestamp_unparsed,omitempty"`
	Sender            Sender          `json:"sender"`
	IsFromMe          bool            `json:"is_from_me"`
	Readtime          json.RawMessage `json:"readtime,omitempty"`
	Contents          string          `json:"contents"`
	Attachments       json.RawMessage `json:"attachments"`
	SourceDeviceID    string          `json:"source_device_id"`
	SchemaVersion     string          `json:"schema_version"`
	Fingerprint       string          `json:"fingerprint"`
	DuplicateOf       string          `json:"duplicate_of,omitempty"`
	Extracted         *Extracted      `json:"extracted_data,omitempty"`
	Features          *FeatureSet     `json:"features,omitempty"`
}

// FeatureSet holds lightweight signals derived from Contents. It is always
// recomputable from Contents and never authoritative on its own.
type FeatureSet struct {
	TokenCount     int      `json:"token_count"`
	CharacterCount int      `json:"character_count"`
	IsQuestion     bool     `json:"is_question"`
	IsExclamation  bool     `json:"is_exclamation"`
	ContainsDate   bool     `json:"contains_date"`
	ContainsPlace  bool     `json:"contains_place"`
	ContainsMoney  bool     `json:"contains_money"`
	Mentions       []string `json:"mentions"`
	HasEmojis      bool     `json:"has_emojis"`
	HasURLs        bool     `json:"has_urls"`
	EmojiCount     int      `json:"emoji_count"`
	URLCount       int      `json:"url_count"`
}

// Extracted carries the spans pulled out of Contents and what is left.
type Extracted struct {
	Emojis        []string `json:"emojis"`
	URLs          []string `json:"urls"`
	CleanContents string   `json:"clean_contents"`
}
