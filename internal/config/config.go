package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerAddr string
	// MaxUploadBytes caps a single uploaded file.
	MaxUploadBytes int64

	DefaultQuality   int
	DefaultMaxWidth  int
	DefaultMaxHeight int
	AutoOrient       bool

	// MaxConcurrentJobs bounds how many images are transformed at once.
	MaxConcurrentJobs int
	// RateLimitCompress is the per-client compress budget per minute; 0 disables it.
	RateLimitCompress int
	TrustedProxyCIDRs string
	CSRFSecret        string
	ForceHTTPS        bool

	LogLevel  string
	LogFormat string
	Debug     bool
}

// Defaults returns the configuration used when no variable is set.
func Defaults() *Config {
	return &Config{
		ServerAddr:        ":8080",
		MaxUploadBytes:    25 << 20,
		DefaultQuality:    85,
		DefaultMaxWidth:   1920,
		DefaultMaxHeight:  1080,
		AutoOrient:        true,
		MaxConcurrentJobs: 4,
		RateLimitCompress: 30,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads configuration from the environment. A .env file (or the files
// listed in ENV_FILE, comma separated) is loaded first; variables already
// set in the environment win.
func Load() *Config {
	files := []string{".env"}
	if v := os.Getenv("ENV_FILE"); v != "" {
		files = strings.Split(v, ",")
	}
	for _, f := range files {
		f = strings.TrimSpace(f)
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("file", f).Warn("config: could not load env file")
		}
	}

	d := Defaults()
	return &Config{
		ServerAddr:        getEnv("SERVER_ADDR", d.ServerAddr),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_MB", int(d.MaxUploadBytes>>20))) << 20,
		DefaultQuality:    getEnvInt("DEFAULT_QUALITY", d.DefaultQuality),
		DefaultMaxWidth:   getEnvInt("DEFAULT_MAX_WIDTH", d.DefaultMaxWidth),
		DefaultMaxHeight:  getEnvInt("DEFAULT_MAX_HEIGHT", d.DefaultMaxHeight),
		AutoOrient:        getEnvBool("AUTO_ORIENT", d.AutoOrient),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", d.MaxConcurrentJobs),
		RateLimitCompress: getEnvInt("RATE_LIMIT_COMPRESS", d.RateLimitCompress),
		TrustedProxyCIDRs: getEnv("TRUSTED_PROXY_CIDRS", d.TrustedProxyCIDRs),
		CSRFSecret:        getEnv("CSRF_SECRET", d.CSRFSecret),
		ForceHTTPS:        getEnvBool("FORCE_HTTPS", d.ForceHTTPS),
		LogLevel:          getEnv("LOG_LEVEL", d.LogLevel),
		LogFormat:         getEnv("LOG_FORMAT", d.LogFormat),
		Debug:             getEnvBool("DEBUG", d.Debug),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logrus.WithField("key", key).Warnf("config: invalid integer %q, using %d", value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logrus.WithField("key", key).Warnf("config: invalid boolean %q, using %t", value, defaultValue)
		return defaultValue
	}
	return b
}
