package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Card describes one registered capability: its version, side effects and the
// JSON schema its structured input must satisfy.
type Card struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	SideEffects []string               `json:"side_effects,omitempty"`
	Checksum    string                 `json:"checksum,omitempty"`
	Signature   string                 `json:"signature,omitempty"`
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// DefaultCards returns the built-in capability cards.
func DefaultCards() []Card {
	return []Card{
		{
			Name:        "search",
			Version:     "v1",
			Description: "Searches the web and synthesizes findings",
			InputSchema: objectSchema(map[string]interface{}{
				"request":  map[string]interface{}{"type": "string"},
				"goal":     map[string]interface{}{"type": "string"},
				"intent":   map[string]interface{}{"type": "string"},
				"query":    map[string]interface{}{"type": "string"},
				"findings": map[string]interface{}{"type": "string"},
			}, "request", "intent"),
			SideEffects: []string{"network"},
		},
		{
			Name:        "post",
			Version:     "v1",
			Description: "Creates and publishes content on Threads",
			InputSchema: objectSchema(map[string]interface{}{
				"request":  map[string]interface{}{"type": "string"},
				"goal":     map[string]interface{}{"type": "string"},
				"intent":   map[string]interface{}{"type": "string"},
				"findings": map[string]interface{}{"type": "string"},
			}, "request", "intent"),
			SideEffects: []string{"network", "publish"},
		},
	}
}

// Registry holds validated capability cards keyed by name.
type Registry struct {
	cards      map[string]Card
	validators map[string]*gojsonschema.Schema
}

// ErrCapabilityMissing indicates a required capability is not registered.
var ErrCapabilityMissing = fmt.Errorf("required capability missing")

// InvalidInputError reports an input that violates a capability's schema.
// It is a local contract violation and is never retried.
type InvalidInputError struct {
	Capability string
	Detail     string
}

func (e InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for capability %s: %s", e.Capability, e.Detail)
}

// NewRegistry validates card signatures, compiles input schemas and ensures
// required capabilities exist.
func NewRegistry(cards []Card, signingSecret string, required []string) (*Registry, error) {
	reg := &Registry{
		cards:      make(map[string]Card),
		validators: make(map[string]*gojsonschema.Schema),
	}
	for _, card := range cards {
		if err := validateSignature(card, signingSecret); err != nil {
			return nil, fmt.Errorf("capability %s@%s signature invalid: %w", card.Name, card.Version, err)
		}
		existing, ok := reg.cards[card.Name]
		if ok && !versionGreater(card.Version, existing.Version) {
			continue
		}
		schema, err := compileSchema(card.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("capability %s@%s schema invalid: %w", card.Name, card.Version, err)
		}
		reg.cards[card.Name] = card
		reg.validators[card.Name] = schema
	}
	if len(required) == 0 {
		required = []string{"search", "post"}
	}
	for _, r := range required {
		if _, ok := reg.cards[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityMissing, r)
		}
	}
	return reg, nil
}

// Card returns the registered card for a capability name.
func (r *Registry) Card(name string) (Card, bool) {
	if r == nil {
		return Card{}, false
	}
	card, ok := r.cards[name]
	return card, ok
}

// ValidateInput checks a structured input against the capability's schema.
func (r *Registry) ValidateInput(name string, input map[string]interface{}) error {
	if r == nil {
		return nil
	}
	schema, ok := r.validators[name]
	if !ok {
		return InvalidInputError{Capability: name, Detail: "capability not registered"}
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return InvalidInputError{Capability: name, Detail: err.Error()}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return InvalidInputError{Capability: name, Detail: strings.Join(details, "; ")}
	}
	return nil
}

func compileSchema(raw map[string]interface{}) (*gojsonschema.Schema, error) {
	if raw == nil {
		raw = objectSchema(map[string]interface{}{})
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
}

// ComputeChecksum returns a deterministic hash of the card payload
// (excluding the signature fields).
func ComputeChecksum(card Card) (string, error) {
	payload := map[string]interface{}{
		"name":         card.Name,
		"version":      card.Version,
		"description":  card.Description,
		"input_schema": card.InputSchema,
		"side_effects": card.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignCard computes an HMAC signature using the signing secret.
func SignCard(card Card, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(card)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(card Card, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignCard(card, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(card.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	return compareVersions(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
