package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/nandoflorestan/keepluggable/internal/domain"
)

type Config struct {
	Name    string  `yaml:"name" validate:"required"`
	Logging Logging `yaml:"logging"`
	Storage Storage `yaml:"storage"`
	Action  Action  `yaml:"action"`
	Image   Image   `yaml:"image"`
}

type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Storage selects the payload and metadata backends by registry key
// and carries the per-backend settings.
type Storage struct {
	Payload  string `yaml:"payload" validate:"required"`
	Metadata string `yaml:"metadata" validate:"required"`
	Fs       Fs     `yaml:"fs"`
	S3       S3     `yaml:"s3"`
	Pg       Pg     `yaml:"pg"`
}

type Fs struct {
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"` // prefix for retrieval URLs; empty disables them
}

type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type Pg struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
}

type Action struct {
	// Kind selects the upload workflow: "files" stores any payload as-is,
	// "image" derives the configured renditions.
	Kind string `yaml:"kind" validate:"oneof=files image"`
	// MaxFileSize in bytes; zero means no maximum.
	MaxFileSize      int64 `yaml:"max_file_size" validate:"min=0"`
	AllowEmptyFiles  bool  `yaml:"allow_empty_files"`
	URLExpirySeconds int   `yaml:"url_expiry_seconds" validate:"min=0"`
	SecureURLs       bool  `yaml:"secure_urls"`
}

type Image struct {
	UploadMustBeImage bool `yaml:"upload_must_be_img"`
	// StoreOriginal false keeps only the original's metadata row, not its
	// payload, to save space while still recognizing repeated uploads.
	StoreOriginal bool `yaml:"store_original"`
	// Versions holds one "format max-width max-height name" line per
	// derivation target.
	Versions string `yaml:"versions"`
	Quality  int    `yaml:"versions_quality" validate:"min=1,max=100"`

	// Specs is parsed from Versions at load time, sorted ascending by area.
	Specs []domain.VersionSpec `yaml:"-" validate:"dive"`
}

func defaults() *Config {
	return &Config{
		Logging: Logging{Level: "info"},
		Action:  Action{Kind: "files", URLExpirySeconds: 3600, SecureURLs: true},
		Image:   Image{StoreOriginal: true, Quality: 90},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals, applies defaults, parses version spec lines and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, line := range strings.Split(cfg.Image.Versions, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		spec, err := domain.ParseVersionSpec(line)
		if err != nil {
			return nil, err
		}
		cfg.Image.Specs = append(cfg.Image.Specs, spec)
	}
	domain.SortVersionSpecs(cfg.Image.Specs)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for program startup paths where a bad config is fatal.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
