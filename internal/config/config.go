package config

import (
	"os"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Chat      ChatConfig
	Knowledge KnowledgeConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL      string
	DefaultModel string

	// Timeouts are in seconds. Connect covers dialing and response
	// headers; Read bounds the gap between stream chunks.
	ConnectTimeout int
	ReadTimeout    int
	MaxRetries     int

	// CheckInterval is the connection monitor period in seconds.
	CheckInterval int
}

type ChatConfig struct {
	MaxMessages  int
	SystemPrompt string
}

type KnowledgeConfig struct {
	ContextLength    int
	MaxSearchResults int
}

type StorageConfig struct {
	DataDir       string
	MaxFileSizeMB int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			ConnectTimeout: 15,
			ReadTimeout:    120,
			MaxRetries:     3,
			CheckInterval:  30,
		},
		Chat: ChatConfig{
			MaxMessages: 200,
		},
		Knowledge: KnowledgeConfig{
			ContextLength:    2000,
			MaxSearchResults: 10,
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			MaxFileSizeMB: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.ollama-chat.app).
// On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/ollama-chat/config.json.
//
// Environment variables (OLLAMA_CHAT_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// keychain abstracts platform secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const (
	secretService = "ollama-chat"
	tokenAccount  = "api_token"
	tokenEnv      = "OLLAMA_CHAT_API_TOKEN"
)

// NewKeychain returns the platform secret store.
func NewKeychain() keychain {
	return keychainReader{}
}

// GetAPIToken returns the HTTP API bearer token, preferring the environment
// variable over the platform secret store.
func GetAPIToken(kc keychain) (string, error) {
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		return token, nil
	}
	token, err := kc.Get(secretService, tokenAccount)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetAPIToken stores the HTTP API bearer token in the platform secret store.
func SetAPIToken(kc keychain, token string) error {
	return kc.Set(secretService, tokenAccount, token)
}

// keychainReader is the platform-backed keychain implementation.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainReader) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
