package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port            string
	Environment     string
	AllowedOrigins  []string
	HostTokenSecret string
	Redis           RedisConfig
	ICE             ICEConfig
	Classroom       ClassroomConfig
	Log             LogConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ICEConfig carries the raw environment values consumed by the ICE resolver.
// STUNServers is either a JSON array of URLs or a comma-separated list; the
// TURN triple is used only when all three fields are set.
type ICEConfig struct {
	STUNServers  string
	TURNURL      string
	TURNUsername string
	TURNPassword string
}

// ClassroomConfig points the live client at the platform's session API and
// recording upload endpoint.
type ClassroomConfig struct {
	APIBase   string
	UploadURL string
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		AllowedOrigins:  origins,
		HostTokenSecret: getEnv("HOST_TOKEN_SECRET", ""),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		ICE: ICEConfig{
			STUNServers:  getEnv("STUN_SERVERS", ""),
			TURNURL:      getEnv("TURN_URL", ""),
			TURNUsername: getEnv("TURN_USERNAME", ""),
			TURNPassword: getEnv("TURN_PASSWORD", ""),
		},
		Classroom: ClassroomConfig{
			APIBase:   getEnv("CLASSROOM_API_BASE", "http://localhost:3000/api"),
			UploadURL: getEnv("RECORDING_UPLOAD_URL", "http://localhost:3000/api/upload"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
