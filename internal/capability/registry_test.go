package capability

import (
	"errors"
	"strings"
	"testing"
)

func TestNewRegistryRequiresDefaults(t *testing.T) {
	reg, err := NewRegistry(DefaultCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for _, name := range []string{"search", "post"} {
		if _, ok := reg.Card(name); !ok {
			t.Fatalf("card %q missing", name)
		}
	}
}

func TestNewRegistryMissingRequiredCapability(t *testing.T) {
	cards := []Card{DefaultCards()[0]} // search only
	_, err := NewRegistry(cards, "", []string{"search", "post"})
	if !errors.Is(err, ErrCapabilityMissing) {
		t.Fatalf("err = %v, want ErrCapabilityMissing", err)
	}
}

func TestValidateInputEnforcesSchema(t *testing.T) {
	reg, err := NewRegistry(DefaultCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	valid := map[string]interface{}{"request": "post about go", "intent": "publish"}
	if err := reg.ValidateInput("post", valid); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	missing := map[string]interface{}{"request": "post about go"}
	err = reg.ValidateInput("post", missing)
	var invalid InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidInputError", err)
	}
	if !strings.Contains(invalid.Detail, "intent") {
		t.Fatalf("detail = %q, want mention of missing field", invalid.Detail)
	}

	wrongType := map[string]interface{}{"request": "x", "intent": 7}
	if err := reg.ValidateInput("post", wrongType); err == nil {
		t.Fatal("non-string intent accepted")
	}
}

func TestValidateInputUnknownCapability(t *testing.T) {
	reg, err := NewRegistry(DefaultCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.ValidateInput("translate", nil); err == nil {
		t.Fatal("unknown capability accepted")
	}
}

func TestSignatureVerification(t *testing.T) {
	secret := "card-secret"
	card := DefaultCards()[0]
	sig, err := SignCard(card, secret)
	if err != nil {
		t.Fatalf("SignCard: %v", err)
	}
	card.Signature = sig

	if _, err := NewRegistry([]Card{card, signedPostCard(t, secret)}, secret, nil); err != nil {
		t.Fatalf("valid signatures rejected: %v", err)
	}

	card.Signature = "deadbeef"
	if _, err := NewRegistry([]Card{card}, secret, []string{"search"}); err == nil {
		t.Fatal("tampered signature accepted")
	}
}

func signedPostCard(t *testing.T, secret string) Card {
	t.Helper()
	card := DefaultCards()[1]
	sig, err := SignCard(card, secret)
	if err != nil {
		t.Fatalf("SignCard: %v", err)
	}
	card.Signature = sig
	return card
}

func TestRegistryPrefersNewerVersion(t *testing.T) {
	older := DefaultCards()[0]
	newer := older
	newer.Version = "v2"
	newer.Description = "second revision"

	reg, err := NewRegistry([]Card{newer, older, DefaultCards()[1]}, "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	card, _ := reg.Card("search")
	if card.Version != "v2" {
		t.Fatalf("version = %s, want v2", card.Version)
	}
}
