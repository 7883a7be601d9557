package config

import (
	"github.com/spf13/viper"
)

// Deployment assumption mirrors the rest of our services: the pod gets its
// DB and AWS settings as plain environment variables; defaults below match
// the docker-compose + LocalStack setup.

type Config struct {
	DBHost          string `mapstructure:"DB_HOST"`
	DBPort          string `mapstructure:"DB_PORT"`
	DBUser          string `mapstructure:"DB_USER"`
	DBPassword      string `mapstructure:"DB_PASSWORD"`
	DBName          string `mapstructure:"DB_NAME"`
	ServerPort      string `mapstructure:"SERVER_PORT"`
	RelayPort       string `mapstructure:"RELAY_PORT"`
	AWSRegion       string `mapstructure:"AWS_REGION"`
	FeedSQSQueueURL string `mapstructure:"FEED_SQS_QUEUE_URL"`
	AWSEndpoint     string `mapstructure:"AWS_ENDPOINT"`
	AlertSender     string `mapstructure:"ALERT_SENDER"`
	AlertRecipient  string `mapstructure:"ALERT_RECIPIENT"`
	PhotoBucket     string `mapstructure:"PHOTO_BUCKET"`
	PhotoBaseURL    string `mapstructure:"PHOTO_BASE_URL"`
	IsLocalDev      bool   `mapstructure:"IS_LOCAL_DEV"`
}

// LoadConfig reads configuration from environment variables with local-dev
// defaults.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("DB_HOST", "db")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "recordstore_db")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RELAY_PORT", "8082")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("FEED_SQS_QUEUE_URL", "http://localstack:4566/000000000000/record-feed-queue")
	viper.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	viper.SetDefault("ALERT_SENDER", "recordstore@hr.local")
	viper.SetDefault("ALERT_RECIPIENT", "ops@hr.local")
	viper.SetDefault("PHOTO_BUCKET", "attendance-photos")
	viper.SetDefault("PHOTO_BASE_URL", "")
	viper.SetDefault("IS_LOCAL_DEV", false)

	// Read in environment variables that match the keys.
	viper.AutomaticEnv()

	err = viper.Unmarshal(&config)
	return
}
