package multiagent

import (
	"context"
	"errors"
	"testing"

	"github.com/carabistouflette/hive/llm"
)

func TestCapabilityInvoker_InvokeRendersTemplateAndCallsProvider(t *testing.T) {
	provider := newMockLLMProvider("mock")
	provider.setDefault(`{"ok":true}`)
	invoker, _ := newTestInvoker(provider)

	result, err := invoker.Invoke(context.Background(), "echo_v1", map[string]string{"key": "value"}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("result.Err = %v, want nil", result.Err)
	}
	if result.Content != `{"ok":true}` {
		t.Errorf("Content = %q, want %q", result.Content, `{"ok":true}`)
	}
	if result.Request.Prompt != "key=value\n" {
		t.Errorf("rendered prompt = %q, want %q", result.Request.Prompt, "key=value\n")
	}
}

func TestCapabilityInvoker_InvokeUnknownCapability(t *testing.T) {
	invoker, _ := newTestInvoker(newMockLLMProvider("mock"))
	if _, err := invoker.Invoke(context.Background(), "does_not_exist", nil, nil); err == nil {
		t.Error("Invoke with an unknown capability id succeeded, want error")
	}
}

func TestCapabilityInvoker_ProviderFailureIsNotAGoError(t *testing.T) {
	provider := newMockLLMProvider("mock")
	provider.setFailAlways(errors.New("rate limited"))
	invoker, _ := newTestInvoker(provider)

	result, err := invoker.Invoke(context.Background(), "echo_v1", map[string]string{"key": "value"}, nil)
	if err != nil {
		t.Fatalf("Invoke returned a Go error for a provider failure: %v", err)
	}
	if result.Err == nil {
		t.Error("result.Err is nil, want a populated provider failure")
	}
}

func TestCapabilityInvoker_StrictRenderFailsOnMissingField(t *testing.T) {
	catalog := CapabilityCatalog{
		"needs_field": CapabilityDefinition{
			ID:              "needs_field",
			Template:        "value is {{.missing}}",
			DefaultProvider: "mock",
			DefaultModel:    "mock-model",
		},
	}
	factory := llm.NewMultiProviderFactory()
	factory.AddProvider("mock", newMockLLMProvider("mock"))
	invoker := NewCapabilityInvoker(catalog, factory)

	if _, err := invoker.Invoke(context.Background(), "needs_field", map[string]string{"present": "x"}, nil); err == nil {
		t.Error("Invoke with a template field missing from data succeeded, want a render error")
	}
}

func TestCapabilityInvoker_ContextOverridesWinOverCapabilityDefaults(t *testing.T) {
	provider := newMockLLMProvider("mock")
	otherProvider := newMockLLMProvider("other")
	otherProvider.setDefault("from-other")

	catalog := testCatalog("mock", "mock-model")
	factory := llm.NewMultiProviderFactory()
	factory.AddProvider("mock", provider)
	factory.AddProvider("other", otherProvider)
	invoker := NewCapabilityInvoker(catalog, factory)

	result, err := invoker.Invoke(context.Background(), "echo_v1", map[string]string{"key": "value"}, &ContextOverrides{
		Provider: "other",
		Model:    "other-model",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Content != "from-other" {
		t.Errorf("Content = %q, want %q (the overridden provider's response)", result.Content, "from-other")
	}
	if result.Request.Provider != "other" || result.Request.Model != "other-model" {
		t.Errorf("echo = %+v, want provider=other model=other-model", result.Request)
	}
}

func TestCapabilityInvoker_MissingProviderOrModelIsConfigError(t *testing.T) {
	catalog := CapabilityCatalog{
		"bare": CapabilityDefinition{ID: "bare", Template: "x"},
	}
	factory := llm.NewMultiProviderFactory()
	invoker := NewCapabilityInvoker(catalog, factory)

	if _, err := invoker.Invoke(context.Background(), "bare", nil, nil); err == nil {
		t.Error("Invoke with no provider/model on the capability or overrides succeeded, want error")
	}
}
