package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the relay needs.
type Config struct {
	Server    ServerConfig
	Verify    VerifyConfig
	Speech    SpeechConfig
	Translate TranslateConfig
	Relay     RelayConfig
}

// Load pulls configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	verify, err := loadVerifyConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	translate, err := loadTranslateConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Verify:    verify,
		Speech:    speech,
		Translate: translate,
		Relay:     relay,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// VerifyConfig carries the client-verification secrets.
type VerifyConfig struct {
	InitialSharedKey string
	SharedSecret     string
	WebSecret        string
	AllowedOrigins   []string
}

func loadVerifyConfig() (VerifyConfig, error) {
	initialKey := strings.TrimSpace(os.Getenv("VERIFY_INITIAL_SHARED_KEY"))
	sharedSecret := strings.TrimSpace(os.Getenv("VERIFY_SHARED_SECRET"))
	webSecret := strings.TrimSpace(os.Getenv("VERIFY_WEB_SECRET"))

	if initialKey == "" || sharedSecret == "" || webSecret == "" {
		return VerifyConfig{}, fmt.Errorf("VERIFY_INITIAL_SHARED_KEY, VERIFY_SHARED_SECRET and VERIFY_WEB_SECRET are required")
	}

	var origins []string
	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}

	return VerifyConfig{
		InitialSharedKey: initialKey,
		SharedSecret:     sharedSecret,
		WebSecret:        webSecret,
		AllowedOrigins:   origins,
	}, nil
}

// SpeechConfig covers the speech-to-text and text-to-speech provider.
type SpeechConfig struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
	TTSVoice string
	Timeout  int
}

// Enabled reports whether the speech provider credentials are present.
func (c SpeechConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return SpeechConfig{
		APIKey:   strings.TrimSpace(os.Getenv("SPEECH_API_KEY")),
		BaseURL:  getEnvOrDefault("SPEECH_BASE_URL", ""),
		STTModel: getEnvOrDefault("SPEECH_STT_MODEL", "whisper-1"),
		TTSModel: getEnvOrDefault("SPEECH_TTS_MODEL", "tts-1"),
		TTSVoice: getEnvOrDefault("SPEECH_TTS_VOICE", "alloy"),
		Timeout:  timeoutSeconds,
	}, nil
}

// TranslateConfig covers the machine-translation model.
type TranslateConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c TranslateConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the translation chat model from this configuration.
func (c TranslateConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("translation credentials missing: provide ARK_API_KEY + ARK_MODEL or AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadTranslateConfig() (TranslateConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return TranslateConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return TranslateConfig{}, err
	}

	return TranslateConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

// RelayConfig bounds the utterance pipeline and room membership.
type RelayConfig struct {
	MaxUploadBytes     int64
	MaxDurationSeconds float64
	SampleRate         int
	RoomMaxMembers     int
	TempDir            string
}

func loadRelayConfig() (RelayConfig, error) {
	maxUpload, err := parseOptionalIntEnv("RELAY_MAX_UPLOAD_BYTES")
	if err != nil {
		return RelayConfig{}, err
	}
	uploadBytes := int64(10 << 20) // 10 MB
	if maxUpload != nil {
		uploadBytes = int64(*maxUpload)
	}

	maxDuration, err := parseOptionalFloatEnv("RELAY_MAX_DURATION_SECONDS")
	if err != nil {
		return RelayConfig{}, err
	}
	durationSeconds := 60.0
	if maxDuration != nil {
		durationSeconds = *maxDuration
	}

	sampleRate, err := parseOptionalIntEnv("RELAY_SAMPLE_RATE")
	if err != nil {
		return RelayConfig{}, err
	}
	rate := 16000
	if sampleRate != nil {
		rate = *sampleRate
	}

	// Room size was capped at two in an earlier revision of this system
	// and the cap was later dropped; it stays configurable. Zero means
	// unlimited.
	maxMembers, err := parseOptionalIntEnv("ROOM_MAX_MEMBERS")
	if err != nil {
		return RelayConfig{}, err
	}
	members := 0
	if maxMembers != nil {
		members = *maxMembers
	}

	return RelayConfig{
		MaxUploadBytes:     uploadBytes,
		MaxDurationSeconds: durationSeconds,
		SampleRate:         rate,
		RoomMaxMembers:     members,
		TempDir:            getEnvOrDefault("RELAY_TEMP_DIR", os.TempDir()),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
