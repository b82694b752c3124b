package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const (
	defaultPath = "config.yaml"
	pathEnv     = "HIREWIRE_CONFIG"
)

const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"

	StoreDriverMemory = "memory"
	StoreDriverFile   = "file"
	StoreDriverSQLite = "sqlite"
)

type Config struct {
	Log       Log    `yaml:"log"`
	Oracle    Oracle `yaml:"oracle"`
	Store     Store  `yaml:"store"`
	HTTP      HTTP   `yaml:"http"`
	Transport string `yaml:"transport" example:"http" validate:"oneof=http mcp"`
}

type Oracle struct {
	// OpenAI-compatible base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1" validate:"required,url"`
	// API token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// Chat model with JSON output support
	Model string `yaml:"model" example:"openai/gpt-4o-mini" validate:"required"`
	// Sampling temperature
	Temperature float64 `yaml:"temperature" example:"0.2" validate:"gte=0,lte=2"`
	// Upper bound for a single oracle call
	Timeout time.Duration `yaml:"timeout" example:"60s" validate:"gt=0"`
}

type Store struct {
	// Checkpoint backend
	Driver string `yaml:"driver" example:"sqlite" validate:"oneof=memory file sqlite"`
	// Directory for the file driver, database file for the sqlite driver
	Path string `yaml:"path" example:"data/conversations.db" validate:"required_unless=Driver memory"`
}

type HTTP struct {
	// Listen address
	Listen string `yaml:"listen" example:":8080" validate:"required"`
}

type Log struct {
	// Minimum level for console output
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

func Load() (*Config, error) {
	path := os.Getenv(pathEnv)
	if path == "" {
		path = defaultPath
	}

	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	var result Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.Transport == "" {
		result.Transport = TransportHTTP
	}
	if result.HTTP.Listen == "" {
		result.HTTP.Listen = ":8080"
	}
	if result.Store.Driver == "" {
		result.Store.Driver = StoreDriverMemory
	}
	if result.Store.Path == "" {
		switch result.Store.Driver {
		case StoreDriverFile:
			result.Store.Path = "data/conversations"
		case StoreDriverSQLite:
			result.Store.Path = "data/conversations.db"
		}
	}
	if result.Log.Level == "" {
		result.Log.Level = "info"
	}
	if result.Oracle.Timeout == 0 {
		result.Oracle.Timeout = time.Minute
	}
	if result.Oracle.Temperature == 0 {
		result.Oracle.Temperature = 0.2
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
