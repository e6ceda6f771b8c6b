package providers_test

import (
	"context"
	"errors"
	"testing"

	"comfyforge/internal/keys"
	"comfyforge/internal/providers"
	"comfyforge/internal/router"
	"comfyforge/internal/services"
	"comfyforge/internal/testsupport"
)

type stubSelector struct {
	key       *keys.Key
	providers []string
}

func (s *stubSelector) Select(_ context.Context, provider string, _ router.Criteria) (*keys.Key, error) {
	s.providers = append(s.providers, provider)
	return s.key, nil
}

func TestBindUnknownProvider(t *testing.T) {
	dispatcher := providers.NewDispatcher(providers.NewTable(nil), &stubSelector{})
	_, err := dispatcher.Bind(context.Background(), "Luma", router.Criteria{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBindUsesCanonicalNameAndBindsSecret(t *testing.T) {
	fake := testsupport.NewFakeAdapter("Gemini")
	selector := &stubSelector{key: &keys.Key{ID: 9, Provider: "Gemini", Secret: "g-secret"}}
	dispatcher := providers.NewDispatcher(providers.NewTableWith(fake), selector)

	binding, err := dispatcher.Bind(context.Background(), "gemini", router.Criteria{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !binding.Bound() || binding.KeyID() != 9 {
		t.Fatalf("unexpected binding %+v", binding)
	}
	if len(selector.providers) != 1 || selector.providers[0] != "Gemini" {
		t.Fatalf("selector saw %v", selector.providers)
	}
	if _, err := binding.Call(context.Background(), "default", nil, "", []providers.Part{{Type: providers.PartText, Data: "hi"}}, 0.7, 42); err != nil {
		t.Fatalf("Call: %v", err)
	}
	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Config.Secret != "g-secret" || calls[0].Config.Provider != "Gemini" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestBindWithNoEligibleKeyIsUnbound(t *testing.T) {
	dispatcher := providers.NewDispatcher(providers.NewTableWith(testsupport.NewFakeAdapter("OpenAI")), &stubSelector{})
	binding, err := dispatcher.Bind(context.Background(), "openai", router.Criteria{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if binding.Bound() || binding.Key != nil {
		t.Fatalf("expected unbound binding, got %+v", binding)
	}
	override := binding.WithSecret("sk-override")
	if !override.Bound() || override.KeyID() != 0 || binding.Bound() {
		t.Fatal("WithSecret must return an independent copy")
	}
}
