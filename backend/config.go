package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your_secret_key_please_change_in_production"

// Config holds everything the server reads from the environment.
type Config struct {
	// Server
	Port           string
	Environment    string
	AllowedOrigins []string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Security
	JWTSecret           string
	TokenTTL            time.Duration
	LoginAttemptsMax    int
	LoginAttemptsWindow time.Duration

	// OTP
	OTPLength      int
	OTPExpiry      time.Duration
	MaxOTPAttempts int

	// Email / SMS
	EmailProvider    string // "sendgrid" or "log"
	EmailFrom        string
	SendGridAPIKey   string
	SMSProvider      string // "twilio" or "log"
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Photos
	UseS3     bool
	UploadDir string
	S3Bucket  string
	AWSRegion string

	// Matching
	DefaultCity  string
	MatchWorkers int
}

// loadConfig reads a .env file when one exists and then the environment.
func loadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Println("Warning: could not read .env file:", err)
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("GO_ENV", "development"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173,http://localhost:3001"),

		DatabaseURL: getEnv("DATABASE_URL", "user=admin password=password dbname=roommatedb sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		JWTSecret:           getEnv("JWT_SECRET", defaultJWTSecret),
		TokenTTL:            getEnvDuration("TOKEN_TTL", "24h"),
		LoginAttemptsMax:    getEnvInt("LOGIN_ATTEMPTS_MAX", 5),
		LoginAttemptsWindow: getEnvDuration("LOGIN_ATTEMPTS_WINDOW", "15m"),

		OTPLength:      getEnvInt("OTP_LENGTH", 6),
		OTPExpiry:      getEnvDuration("OTP_EXPIRY", "10m"),
		MaxOTPAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),

		EmailProvider:    getEnv("EMAIL_PROVIDER", "log"),
		EmailFrom:        getEnv("EMAIL_FROM", "noreply@roommate-finder.local"),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SMSProvider:      getEnv("SMS_PROVIDER", "log"),
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		UseS3:     getEnvBool("USE_S3", false),
		UploadDir: getEnv("UPLOAD_DIR", "./uploads/photos"),
		S3Bucket:  getEnv("S3_BUCKET", ""),
		AWSRegion: getEnv("AWS_REGION", "ap-south-1"),

		DefaultCity:  getEnv("DEFAULT_CITY", "Delhi"),
		MatchWorkers: getEnvInt("MATCH_WORKERS", 0),
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == defaultJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT_SECRET must be changed for production")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.OTPLength < 4 || c.OTPLength > 8 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 8")
	}
	if c.MaxOTPAttempts < 1 || c.MaxOTPAttempts > 10 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.LoginAttemptsMax < 1 {
		return fmt.Errorf("LOGIN_ATTEMPTS_MAX must be positive")
	}

	switch c.EmailProvider {
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid provider")
		}
	case "log":
		if c.IsProduction() {
			return fmt.Errorf("log email provider cannot be used in production")
		}
	default:
		return fmt.Errorf("invalid EMAIL_PROVIDER: %s", c.EmailProvider)
	}

	switch c.SMSProvider {
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("twilio configuration incomplete")
		}
	case "log":
	default:
		return fmt.Errorf("invalid SMS_PROVIDER: %s", c.SMSProvider)
	}

	if c.UseS3 && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when USE_S3 is set")
	}
	if !c.UseS3 && c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration falls back to defaultValue when the variable does not parse.
func getEnvDuration(key, defaultValue string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
