package multiagent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/carabistouflette/hive/llm"
)

// mockLLMProvider is a llm.Provider test double keyed by a substring of the
// rendered user prompt. Unmatched prompts get a canned default unless
// failTimes/failAlways is set, letting tests exercise the
// InvocationResult.Err (provider-failure-without-throwing) path alongside
// the happy path.
type mockLLMProvider struct {
	mu          sync.Mutex
	name        string
	responses   map[string]string
	defaultResp string
	callCount   int
	lastPrompt  string

	failAlways bool
	failTimes  int // number of upcoming calls to fail before succeeding
	failErr    error
}

func newMockLLMProvider(name string) *mockLLMProvider {
	return &mockLLMProvider{
		name:        name,
		responses:   make(map[string]string),
		defaultResp: `{}`,
	}
}

func (m *mockLLMProvider) setResponse(promptSubstring, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[promptSubstring] = response
}

func (m *mockLLMProvider) setDefault(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = response
}

func (m *mockLLMProvider) setFailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failErr = err
}

func (m *mockLLMProvider) setFailAlways(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAlways = true
	m.failErr = err
}

func (m *mockLLMProvider) callCountSeen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockLLMProvider) GenerateCompletion(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastPrompt = req.UserPrompt

	if m.failAlways || m.failTimes > 0 {
		if m.failTimes > 0 {
			m.failTimes--
		}
		err := m.failErr
		if err == nil {
			err = errors.New("mock provider failure")
		}
		return nil, err
	}

	for substr, resp := range m.responses {
		if strings.Contains(req.UserPrompt, substr) {
			return &llm.CompletionResponse{Text: resp, TokensUsed: len(resp) / 4, Model: req.Model, FinishReason: "stop"}, nil
		}
	}
	return &llm.CompletionResponse{Text: m.defaultResp, TokensUsed: len(m.defaultResp) / 4, Model: req.Model, FinishReason: "stop"}, nil
}

func (m *mockLLMProvider) GenerateChat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("mockLLMProvider.GenerateChat not implemented")
}

func (m *mockLLMProvider) Name() string { return m.name }

// testCatalog builds a minimal CapabilityCatalog covering every named
// capability id, all routed to providerName/model so tests don't need a
// real config/capabilities directory on disk.
func testCatalog(providerName, model string) CapabilityCatalog {
	ids := []string{
		"decompose_task_v1",
		"perform_basic_research_v1",
		"draft_content_v1",
		"generate_code_v1",
		"validate_content_v1",
		"echo_v1",
	}
	catalog := make(CapabilityCatalog, len(ids))
	for _, id := range ids {
		catalog[id] = CapabilityDefinition{
			ID:              id,
			Template:        "{{range $k, $v := .}}{{$k}}={{$v}}\n{{end}}",
			DefaultProvider: providerName,
			DefaultModel:    model,
		}
	}
	return catalog
}

func newTestInvoker(provider llm.Provider) (*CapabilityInvoker, *llm.MultiProviderFactory) {
	factory := llm.NewMultiProviderFactory()
	factory.AddProvider("mock", provider)
	return NewCapabilityInvoker(testCatalog("mock", "mock-model"), factory), factory
}
