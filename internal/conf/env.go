// env.go - environment variable bindings and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	catset "github.com/anatolykoptev/go-catset"
)

// envBinding maps an environment variable onto a config key.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings returns all environment variable bindings with validation.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"root", "CATSET_ROOT", nil},
		{"log.level", "CATSET_LOG_LEVEL", validateEnvLogLevel},

		// Ingestion
		{"source.kind", "SOURCE", validateEnvSource},
		{"source.kind", "CATSET_SOURCE", validateEnvSource},
		{"source.id", "GROUP_ID", nil},
		{"source.posts", "POSTS_TO_PARSE", validateEnvPositiveInt},
		{"source.periteration", "MAX_POSTS_IN_ITERATION", validateEnvPositiveInt},
		{"source.batchdelay", "BATCH_DELAY", validateEnvDuration},
		{"source.reddit.subreddit", "REDDIT_SUBREDDIT", nil},
		{"source.reddit.clientid", "REDDIT_CLIENT_ID", nil},
		{"source.reddit.clientsecret", "REDDIT_CLIENT_SECRET", nil},
		{"source.reddit.username", "REDDIT_USERNAME", nil},
		{"source.reddit.password", "REDDIT_PASSWORD", nil},
		{"source.reddit.useragent", "REDDIT_USER_AGENT", nil},
		{"source.vk.token", "VK_TOKEN", nil},
		{"source.telegram.channel", "TELEGRAM_CHANNEL", nil},

		// Classification
		{"llm.provider", "LLM_PROVIDER", validateEnvProvider},
		{"llm.model", "LLM_NAME", nil},
		{"llm.temperature", "LLM_TEMPERATURE", validateEnvTemperature},
		{"llm.language", "TEXT_LANGUAGE", nil},
		{"llm.deepseekkey", "DEEPSEEK_API_KEY", nil},
		{"llm.openaikey", "OPENAI_API_KEY", nil},

		// Detection
		{"detector.modelpath", "MODEL_PATH", nil},
		{"detector.confidence", "DETECTOR_CONFIDENCE", validateEnvFraction},
		{"detector.targetclass", "DETECTOR_TARGET_CLASS", validateEnvNonNegativeInt},

		// Publishing
		{"publish.endpoint", "S3_ENDPOINT", nil},
		{"publish.accesskey", "S3_ACCESS_KEY", nil},
		{"publish.secretkey", "S3_SECRET_KEY", nil},
		{"publish.bucket", "S3_BUCKET", nil},
		{"publish.region", "S3_REGION", nil},
	}
}

// bindEnvVars binds every variable on v and validates the ones that are set.
// Keys bound to several variables take the first one that is set.
func bindEnvVars(v *viper.Viper) error {
	keys := map[string][]string{}
	var order []string
	var warnings []string
	for _, b := range getEnvBindings() {
		if _, ok := keys[b.ConfigKey]; !ok {
			order = append(order, b.ConfigKey)
		}
		keys[b.ConfigKey] = append(keys[b.ConfigKey], b.EnvVar)

		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}
	for _, key := range order {
		if err := v.BindEnv(append([]string{key}, keys[key]...)...); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", key, err))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvSource(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case catset.SourceReddit, catset.SourceVK, catset.SourceTelegram:
		return nil
	}
	return fmt.Errorf("source must be reddit, vk or telegram")
}

func validateEnvProvider(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "openai", "deepseek":
		return nil
	}
	return fmt.Errorf("provider must be openai or deepseek")
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log level must be debug, info, warn or error")
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

// validateEnvDuration accepts Go durations ("4s") and bare seconds ("4", "0.5").
func validateEnvDuration(value string) error {
	_, err := parseDuration(value)
	return err
}

func validateEnvTemperature(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return err
	}
	if f < 0 || f > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", f)
	}
	return nil
}

func validateEnvFraction(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return err
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1, got %g", f)
	}
	return nil
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative delay %g", secs)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %s", d)
	}
	return d, nil
}
