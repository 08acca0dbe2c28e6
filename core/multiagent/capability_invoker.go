package multiagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	hiveerrors "github.com/carabistouflette/hive/errors"
	"github.com/carabistouflette/hive/llm"
)

// CapabilityDefinition is one named entry of the capability catalog: a
// prompt template plus optional provider/model defaults. The catalog is
// populated at startup from config/capabilities/*.capability.json by
// LoadCapabilityCatalog, defined below alongside the invoke operation.
type CapabilityDefinition struct {
	ID              string
	Description     string
	Template        string
	DefaultProvider string
	DefaultModel    string
}

// CapabilityCatalog is a name-indexed set of capability definitions.
type CapabilityCatalog map[string]CapabilityDefinition

// ContextOverrides lets a caller pin a provider/model for one invocation,
// overriding the capability definition's own defaults, and optionally
// supply a system-prompt string injected ahead of the rendered template.
type ContextOverrides struct {
	Provider         string
	Model            string
	AdditionalContext string
}

// InvocationResult is the outer, never-failing-on-provider-error result of
// invoke: a provider failure is carried as a populated Err rather than
// returned as a Go error, matching the "on provider failure
// returns an LLMError without throwing" contract. invoke only returns a Go
// error for invocation-setup failures (NotFound, ConfigurationError).
type InvocationResult struct {
	Content      string
	RawResponse  string
	Request      CompletionRequestEcho
	Err          error
	TokensUsed   int
}

// CompletionRequestEcho carries back the resolved request shape, so a
// caller (or a test) can see what was actually sent without re-deriving it.
type CompletionRequestEcho struct {
	Provider string
	Model    string
	Prompt   string
}

// CapabilityInvoker is the single gateway between a worker's domain logic
// and an LLM provider: it resolves a named capability, renders its
// template against caller-supplied data, and calls the resolved provider.
// Rendering is strict: a template referencing a field missing from the
// caller's data is a render error rather than a silent empty substitution.
// A provider failure is returned as InvocationResult.Err rather than a Go
// error, so a caller's normal error-handling path and a deliberate
// provider-failure path stay distinct.
type CapabilityInvoker struct {
	catalog   CapabilityCatalog
	providers *llm.MultiProviderFactory
}

// NewCapabilityInvoker builds an invoker over a fixed catalog and the
// provider set discovered from environment (llm.CreateDefaultProviders),
// which configures every provider environment credentials are present for.
func NewCapabilityInvoker(catalog CapabilityCatalog, providers *llm.MultiProviderFactory) *CapabilityInvoker {
	if providers == nil {
		providers = llm.CreateDefaultProviders()
	}
	return &CapabilityInvoker{catalog: catalog, providers: providers}
}

// Invoke resolves capabilityID, renders its template against data, and
// calls the resolved provider. It returns a Go error only for setup
// failures (unknown capability, unresolved provider/model); a failure from
// the provider itself is reported inside a successfully-returned
// InvocationResult's Err field.
func (ci *CapabilityInvoker) Invoke(ctx context.Context, capabilityID string, data map[string]string, overrides *ContextOverrides) (*InvocationResult, error) {
	def, ok := ci.catalog[capabilityID]
	if !ok {
		return nil, fmt.Errorf("capability %q: %w", capabilityID, hiveerrors.ErrNotFound)
	}

	provider := def.DefaultProvider
	model := def.DefaultModel
	systemPrompt := ""
	if overrides != nil {
		if overrides.Provider != "" {
			provider = overrides.Provider
		}
		if overrides.Model != "" {
			model = overrides.Model
		}
		systemPrompt = overrides.AdditionalContext
	}
	if provider == "" || model == "" {
		return nil, hiveerrors.NewConfigError("capability_invoker", "provider/model",
			fmt.Sprintf("capability %q has no provider/model and none was supplied in context overrides", capabilityID))
	}

	prompt, err := renderStrict(capabilityID, def.Template, data)
	if err != nil {
		return nil, hiveerrors.NewConfigError("capability_invoker", "template",
			fmt.Sprintf("rendering capability %q: %v", capabilityID, err))
	}

	llmProvider, err := ci.providers.GetProvider(provider)
	if err != nil {
		return nil, hiveerrors.NewConfigError("capability_invoker", "provider",
			fmt.Sprintf("capability %q: %v", capabilityID, err))
	}

	echo := CompletionRequestEcho{Provider: provider, Model: model, Prompt: prompt}

	resp, callErr := llmProvider.GenerateCompletion(ctx, &llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Model:        model,
	})
	if callErr != nil {
		return &InvocationResult{
			Request: echo,
			Err:     hiveerrors.NewLLMError(provider, model, "generate_completion", 0, callErr),
		}, nil
	}

	return &InvocationResult{
		Content:     resp.Text,
		RawResponse: resp.Text,
		Request:     echo,
		TokensUsed:  resp.TokensUsed,
	}, nil
}

// capabilityFile mirrors one config/capabilities/*.capability.json document.
type capabilityFile struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Template        string `json:"template"`
	DefaultProvider string `json:"default_provider"`
	DefaultModel    string `json:"default_model"`
}

// LoadCapabilityCatalog discovers every *.capability.json file directly
// under dir and parses it into the catalog, matching the capability ids
// this engine enumerates (decompose_task_v1, perform_basic_research_v1,
// draft_content_v1, generate_code_v1, validate_content_v1).
func LoadCapabilityCatalog(dir string) (CapabilityCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading capability catalog directory %q: %w", dir, err)
	}

	catalog := make(CapabilityCatalog)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match("*.capability.json", entry.Name())
		if err != nil {
			return nil, fmt.Errorf("invalid capability glob: %w", err)
		}
		if !matched {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading capability file %q: %w", path, err)
		}
		var cf capabilityFile
		if err := json.Unmarshal(raw, &cf); err != nil {
			return nil, hiveerrors.NewConfigError("capability_invoker", path, fmt.Sprintf("invalid capability json: %v", err))
		}
		if cf.ID == "" {
			return nil, hiveerrors.NewConfigError("capability_invoker", path, "capability file missing id")
		}
		catalog[cf.ID] = CapabilityDefinition{
			ID:              cf.ID,
			Description:     cf.Description,
			Template:        cf.Template,
			DefaultProvider: cf.DefaultProvider,
			DefaultModel:    cf.DefaultModel,
		}
	}
	return catalog, nil
}

// renderStrict renders tmplText against data in strict mode: any field
// referenced by the template but absent from data is a render error rather
// than a silently-empty substitution.
func renderStrict(name, tmplText string, data map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
