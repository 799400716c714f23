package bitwarden

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Status represents the response from `bw status`
type Status struct {
	ServerURL string `json:"serverUrl"`
	LastSync  string `json:"lastSync"`
	UserEmail string `json:"userEmail"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
}

// Vault states reported by `bw status`.
const (
	StatusUnlocked        = "unlocked"
	StatusLocked          = "locked"
	StatusUnauthenticated = "unauthenticated"
)

// ItemType represents the type of a vault item
type ItemType int

// TypeLogin is the only item type the provider creates or matches.
const TypeLogin ItemType = 1

// Item represents a Bitwarden vault item as returned by `bw list items`.
// Fields the provider does not own (folder, organization, custom fields,
// notes) are carried through edits unchanged.
type Item struct {
	ID             string   `json:"id,omitempty"`
	OrganizationID string   `json:"organizationId,omitempty"`
	FolderID       string   `json:"folderId,omitempty"`
	Type           ItemType `json:"type"`
	Name           string   `json:"name"`
	Notes          string   `json:"notes,omitempty"`
	Favorite       bool     `json:"favorite,omitempty"`
	Fields         []Field  `json:"fields,omitempty"`
	Login          *Login   `json:"login,omitempty"`
	CollectionIDs  []string `json:"collectionIds,omitempty"`
	RevisionDate   string   `json:"revisionDate,omitempty"`
}

// Login represents login-specific data
type Login struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
	Totp     string `json:"totp,omitempty"`
	URIs     []URI  `json:"uris"`
}

// URI represents a URI associated with a login item
type URI struct {
	Match *int   `json:"match"`
	URI   string `json:"uri"`
}

// URIMatchHost is the bw match mode for host-based matching.
const URIMatchHost = 1

// Field represents a custom field in a vault item
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// The bw CLI's JSON output is an external contract, validated defensively
// before decoding: required fields must be present, unknown fields are
// ignored, absent optional fields are tolerated.
const statusSchema = `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string"}
	}
}`

const itemListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "name", "type"],
		"properties": {
			"id": {"type": "string"},
			"name": {"type": "string"},
			"type": {"type": "integer"},
			"login": {
				"type": ["object", "null"],
				"properties": {
					"username": {"type": ["string", "null"]},
					"password": {"type": ["string", "null"]},
					"uris": {
						"type": ["array", "null"],
						"items": {
							"type": "object",
							"required": ["uri"],
							"properties": {
								"uri": {"type": "string"},
								"match": {"type": ["integer", "null"]}
							}
						}
					}
				}
			}
		}
	}
}`

// validateShape checks raw bw output against an expected JSON schema.
func validateShape(subcommand, schema string, data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return &MalformedOutputError{Subcommand: subcommand, Err: err}
	}
	if !result.Valid() {
		errs := result.Errors()
		detail := "schema violation"
		if len(errs) > 0 {
			detail = errs[0].String()
		}
		return &MalformedOutputError{Subcommand: subcommand, Err: fmt.Errorf("%s", detail)}
	}
	return nil
}

func decodeStatus(data []byte) (Status, error) {
	if err := validateShape("status", statusSchema, data); err != nil {
		return Status{}, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, &MalformedOutputError{Subcommand: "status", Err: err}
	}
	return status, nil
}

func decodeItems(data []byte) ([]Item, error) {
	if err := validateShape("list items", itemListSchema, data); err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &MalformedOutputError{Subcommand: "list items", Err: err}
	}
	return items, nil
}

// parseTimestamp converts a bw ISO 8601 timestamp to time.Time.
// Returns the zero time when the field is absent or unparseable.
func parseTimestamp(timestamp string) time.Time {
	if timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
