// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/store"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Capture() config.CaptureConfig {
	args := m.Called()
	return args.Get(0).(config.CaptureConfig)
}

func (m *MockConfig) Store() config.StoreConfig {
	args := m.Called()
	return args.Get(0).(config.StoreConfig)
}

func (m *MockConfig) Input() config.InputConfig {
	args := m.Called()
	return args.Get(0).(config.InputConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	args := m.Called()
	return args.Get(0).(config.LLMConfig)
}

func (m *MockConfig) Bridge() config.BridgeConfig {
	args := m.Called()
	return args.Get(0).(config.BridgeConfig)
}

func (m *MockConfig) DefaultSettings() config.Settings {
	args := m.Called()
	return args.Get(0).(config.Settings)
}

// -- LLM Client Mock --

// MockLLMClient mocks the llmclient.Client interface.
type MockLLMClient struct {
	mock.Mock
}

var _ llmclient.Client = (*MockLLMClient)(nil)

// Generate provides a mock function for model calls.
func (m *MockLLMClient) Generate(ctx context.Context, req llmclient.Request) (*llmclient.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llmclient.Response), args.Error(1)
}

// -- Store Mock --

// MockStore mocks the preference and library store used by the actuator
// and the engine.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ReadPreferences() (map[string]interface{}, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockStore) WritePreferences(updates map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockStore) ReadLibraries() (*store.Libraries, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Libraries), args.Error(1)
}

func (m *MockStore) WriteLibrary(kind, name, version string) (*store.Libraries, error) {
	args := m.Called(kind, name, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Libraries), args.Error(1)
}
