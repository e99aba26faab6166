package config

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/redis/go-redis/v9"
)

// Config - Global variable to export
var Config AppConfig

// AppConfig defines the full application configuration.
type AppConfig struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Cache       CacheConfig       `koanf:"cache"`
	Queue       QueueConfig       `koanf:"queue"`
	Worker      WorkerConfig      `koanf:"worker"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Minio       MinioConfig       `koanf:"minio"`
	Milvus      MilvusConfig      `koanf:"milvus"`
	OpenAI      OpenAIConfig      `koanf:"openai"`
}

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	PublicPort int  `koanf:"publicport"`
	Debug      bool `koanf:"debug"`
}

// DatabaseConfig related to database
type DatabaseConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	TimeZone string `koanf:"timezone"`
	Pool     struct {
		IdleConnections int           `koanf:"idleconnections"`
		MaxConnections  int           `koanf:"maxconnections"`
		ConnLifeTime    time.Duration `koanf:"connlifetime"`
	}
}

// CacheConfig related to Redis
type CacheConfig struct {
	Redis struct {
		RedisOptions redis.Options `koanf:"redisoptions"`
	}
}

// QueueConfig defines the stream transport settings shared by producers and
// consumers. The stream names map one-to-one to the queue identifiers the
// dispatcher routes on.
type QueueConfig struct {
	ConsumerGroup string `koanf:"consumergroup"`
	// MinIdleTime is how long a pending delivery must sit unacknowledged
	// before it is claimed again by another consumer.
	MinIdleTime time.Duration `koanf:"minidletime"`
}

// WorkerConfig defines the queue consumer behavior.
type WorkerConfig struct {
	PollInterval    time.Duration `koanf:"pollinterval"`
	CleanupInterval time.Duration `koanf:"cleanupinterval"`
}

// CoordinatorConfig defines document coordination tunables.
type CoordinatorConfig struct {
	// DefaultLockTTL applies when a caller does not specify a TTL.
	DefaultLockTTL time.Duration `koanf:"defaultlockttl"`
	// StateRetention is how long processing states are kept before cleanup
	// reaps them.
	StateRetention time.Duration `koanf:"stateretention"`
}

// MinioConfig is the chunk blob storage configuration.
type MinioConfig struct {
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	RootUser   string `koanf:"rootuser"`
	RootPwd    string `koanf:"rootpwd"`
	BucketName string `koanf:"bucketname"`
	Secure     bool   `koanf:"secure"`
}

// MilvusConfig is the vector index configuration.
type MilvusConfig struct {
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	Collection string `koanf:"collection"`
}

// OpenAIConfig defines the configuration for the embedding provider.
type OpenAIConfig struct {
	APIKey string `koanf:"apikey"`
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(confmap.Provider(map[string]any{
		"queue.consumergroup":        "ingest-workers",
		"queue.minidletime":          "30s",
		"worker.pollinterval":        "1s",
		"worker.cleanupinterval":     "10m",
		"coordinator.defaultlockttl": "300s",
		"coordinator.stateretention": "168h",
	}, "."), nil); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(file.Provider(filePath), parser); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return err
	}

	if err := k.Unmarshal("", &Config); err != nil {
		return err
	}

	return ValidateConfig(&Config)
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	fs.Parse(os.Args[1:])

	return *configPath
}
