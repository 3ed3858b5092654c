package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        Log        `yaml:"log"`
	HTTP       HTTP       `yaml:"http"`
	Redis      Redis      `yaml:"redis"`
	OpenAI     OpenAI     `yaml:"openai"`
	Cerba      Cerba      `yaml:"cerba"`
	Sorting    Sorting    `yaml:"sorting"`
	Escalation Escalation `yaml:"escalation"`
	Knowledge  Knowledge  `yaml:"knowledge"`
	Booking    Booking    `yaml:"booking"`
	Classifier Classifier `yaml:"classifier"`
}

type OpenAI struct {
	Completion     ModelConfig `yaml:"completion" validate:"required"`
	Interpretation ModelConfig `yaml:"interpretation" validate:"required"`
}

type ModelConfig struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1" validate:"required"`
	// OpenAI token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// OpenAI model
	Model string `yaml:"model" example:"gpt-4o" validate:"required"`
}

type Cerba struct {
	// Base URL of the booking API
	BaseURL string `yaml:"base_url" example:"https://api.example.com/booking/v1" validate:"required"`
	// OAuth2 token endpoint
	TokenURL string `yaml:"token_url" example:"https://auth.example.com/oauth2/token" validate:"required"`
	// OAuth2 client id
	ClientID string `yaml:"client_id" validate:"required"`
	// OAuth2 client secret
	ClientSecret string `yaml:"client_secret" validate:"required"`
}

type Sorting struct {
	// Base URL of the service packaging API
	BaseURL string `yaml:"base_url" example:"https://api.example.com/sorting/v1" validate:"required"`
	// API key sent in the x-api-key header
	APIKey string `yaml:"api_key" validate:"required"`
}

type Escalation struct {
	// Bridge endpoint that moves the call to a human operator
	URL string `yaml:"url" example:"https://bridge.example.com/escalate"`
}

type Knowledge struct {
	// Knowledge base query endpoint
	URL string `yaml:"url" example:"https://kb.example.com/query"`
}

type Booking struct {
	// Fallback center used when silent search finds nothing
	DefaultCenterUUID string `yaml:"default_center_uuid"`
	// How many slot alternatives the booking API should return per search
	AvailabilitiesLimit int `yaml:"availabilities_limit" example:"3"`
}

type Classifier struct {
	// Phrases that mark a handler failure as a knowledge gap
	KnowledgeGapPhrases []string `yaml:"knowledge_gap_phrases"`
	// Phrases that mark a handler failure as user input to re-collect
	IgnorablePhrases []string `yaml:"ignorable_phrases"`
}

type Log struct {
	// Console log level, one of debug, info, warn, error
	Level string `yaml:"level" example:"info" validate:"omitempty,oneof=debug info warn error"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type HTTP struct {
	// Listen address of the chat API
	Addr string `yaml:"addr" example:":8080"`
}

type Redis struct {
	// Redis address for call records
	Addr string `yaml:"addr" example:"localhost:6379"`
	// Redis password
	Pass string `yaml:"pass"`
}

var defaultKnowledgeGapPhrases = []string{
	"non so",
	"non posso aiutarti",
	"non ho informazioni",
	"non sono in grado",
	"non conosco",
	"non dispongo",
	"non ho trovato",
	"information not found",
	"i don't know",
	"cannot help",
}

var defaultIgnorablePhrases = []string{
	"invalid email",
	"invalid phone",
	"formato non valido",
	"please provide",
	"per favore fornisci",
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.Log.Level == "" {
		result.Log.Level = "debug"
	}
	if result.HTTP.Addr == "" {
		result.HTTP.Addr = ":8080"
	}
	if result.Redis.Addr == "" {
		result.Redis.Addr = "localhost:6379"
	}
	if result.Booking.AvailabilitiesLimit == 0 {
		result.Booking.AvailabilitiesLimit = 3
	}
	if len(result.Classifier.KnowledgeGapPhrases) == 0 {
		result.Classifier.KnowledgeGapPhrases = defaultKnowledgeGapPhrases
	}
	if len(result.Classifier.IgnorablePhrases) == 0 {
		result.Classifier.IgnorablePhrases = defaultIgnorablePhrases
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
