// Package conf loads catset settings from defaults, an optional YAML file
// and the process environment.
package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	catset "github.com/anatolykoptev/go-catset"
)

// DefaultTelegramChannel is read when no channel is configured.
const DefaultTelegramChannel = "murkosha"

// Settings is the full configuration tree.
type Settings struct {
	Root     string
	ImageExt string

	Log struct {
		Level string
		JSON  bool
	}

	Source struct {
		Kind              string
		ID                string
		Posts             int
		PerIteration      int
		BatchDelay        time.Duration `mapstructure:"-"`
		RequestsPerSecond float64

		Reddit struct {
			Subreddit    string
			ClientID     string
			ClientSecret string
			Username     string
			Password     string
			UserAgent    string
		}
		VK struct {
			Token      string
			APIVersion string
		}
		Telegram struct {
			Channel  string
			MaxPages int
		}
	}

	LLM struct {
		Provider      string
		Model         string
		Temperature   float64
		Language      string
		DeepseekKey   string
		OpenAIKey     string
		MaxRetries    int
		ClassifyDelay time.Duration `mapstructure:"-"`
		CacheTTL      time.Duration `mapstructure:"-"`
	}

	Detector struct {
		ModelPath   string
		Confidence  float64
		TargetClass int
		Threads     int
	}

	Split struct {
		Train float64
		Val   float64
		Test  float64
		Seed  int64
	}

	Publish struct {
		Enabled   bool
		Prefix    string
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		Region    string
		UseSSL    bool
	}
}

// Load reads configFile (or catset.yaml from the working directory and
// $HOME/.config/catset when empty), applies env bindings and validates the
// result.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("catset")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/catset")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		slog.Debug("catset: config loaded", "file", v.ConfigFileUsed())
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Durations accept bare seconds as well as "4s".
	var err error
	if s.Source.BatchDelay, err = parseDuration(v.GetString("source.batchdelay")); err != nil {
		return nil, fmt.Errorf("source.batchdelay: %w", err)
	}
	if s.LLM.ClassifyDelay, err = parseDuration(v.GetString("llm.classifydelay")); err != nil {
		return nil, fmt.Errorf("llm.classifydelay: %w", err)
	}
	if s.LLM.CacheTTL, err = parseDuration(v.GetString("llm.cachettl")); err != nil {
		return nil, fmt.Errorf("llm.cachettl: %w", err)
	}

	s.Source.Kind = strings.ToLower(strings.TrimSpace(s.Source.Kind))
	s.LLM.Provider = strings.ToLower(strings.TrimSpace(s.LLM.Provider))
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks selectors and split fractions. Credentials are checked by
// the constructors that need them.
func (s *Settings) Validate() error {
	var errs []error
	if err := validateEnvSource(s.Source.Kind); err != nil {
		errs = append(errs, fmt.Errorf("source.kind %q: %w", s.Source.Kind, err))
	}
	if err := validateEnvProvider(s.LLM.Provider); err != nil {
		errs = append(errs, fmt.Errorf("llm.provider %q: %w", s.LLM.Provider, err))
	}
	if s.Source.Posts <= 0 || s.Source.PerIteration <= 0 {
		errs = append(errs, fmt.Errorf("source.posts and source.periteration must be positive"))
	}
	if s.Detector.TargetClass < 0 {
		errs = append(errs, fmt.Errorf("detector.targetclass must not be negative, got %d", s.Detector.TargetClass))
	}
	for _, f := range []float64{s.Split.Train, s.Split.Val, s.Split.Test} {
		if f < 0 || f > 1 {
			errs = append(errs, fmt.Errorf("%w: %v", catset.ErrInvalidSplit, f))
			break
		}
	}
	if s.Split.Train+s.Split.Val > 1 {
		errs = append(errs, fmt.Errorf("%w: train+val > 1", catset.ErrInvalidSplit))
	}
	return errors.Join(errs...)
}

// CatsetConfig returns the pipeline configuration.
func (s *Settings) CatsetConfig() catset.Config {
	target := s.Detector.TargetClass
	return catset.Config{
		Root:                s.Root,
		ImageExt:            s.ImageExt,
		PostsToParse:        s.Source.Posts,
		MaxPostsInIteration: s.Source.PerIteration,
		BatchDelay:          s.Source.BatchDelay,
		ClassifyDelay:       nonZeroDelay(s.LLM.ClassifyDelay),
		TrainFraction:       s.Split.Train,
		ValFraction:         s.Split.Val,
		TestFraction:        s.Split.Test,
		SplitSeed:           s.Split.Seed,
		Confidence:          s.Detector.Confidence,
		TargetClass:         &target,
		UserAgent:           s.Source.Reddit.UserAgent,
		RequestsPerSecond:   s.Source.RequestsPerSecond,
	}
}

// nonZeroDelay maps an explicit zero to the "no delay" sentinel of
// catset.Config, where zero selects the default.
func nonZeroDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// ClassifierOptions returns the text classifier options. The API key is
// picked by provider.
func (s *Settings) ClassifierOptions() catset.ClassifierOptions {
	key := s.LLM.DeepseekKey
	if s.LLM.Provider == "openai" {
		key = s.LLM.OpenAIKey
	}
	opts := catset.ClassifierOptions{
		Provider:    s.LLM.Provider,
		Model:       s.LLM.Model,
		Temperature: s.LLM.Temperature,
		Language:    s.LLM.Language,
		APIKey:      key,
		MaxRetries:  s.LLM.MaxRetries,
	}
	if s.LLM.CacheTTL > 0 {
		opts.Cache = catset.NewMemoryCache(s.LLM.CacheTTL)
	}
	return opts
}

// SourceOptions returns the adapter selection and credentials.
func (s *Settings) SourceOptions() catset.SourceOptions {
	return catset.SourceOptions{
		Kind: s.Source.Kind,
		Reddit: catset.RedditCredentials{
			ClientID:     s.Source.Reddit.ClientID,
			ClientSecret: s.Source.Reddit.ClientSecret,
			Username:     s.Source.Reddit.Username,
			Password:     s.Source.Reddit.Password,
			UserAgent:    s.Source.Reddit.UserAgent,
		},
		VK: catset.VKCredentials{
			Token:      s.Source.VK.Token,
			APIVersion: s.Source.VK.APIVersion,
		},
		Telegram: catset.TelegramOptions{MaxPages: s.Source.Telegram.MaxPages},
	}
}

// SourceID resolves the identifier handed to FetchBatch: the subreddit or
// channel when set, otherwise the generic source.id.
func (s *Settings) SourceID() string {
	switch s.Source.Kind {
	case catset.SourceReddit:
		if s.Source.Reddit.Subreddit != "" {
			return s.Source.Reddit.Subreddit
		}
	case catset.SourceTelegram:
		if s.Source.Telegram.Channel != "" {
			return s.Source.Telegram.Channel
		}
		if s.Source.ID == "" {
			return DefaultTelegramChannel
		}
	}
	return s.Source.ID
}

// MinioOptions returns the bucket settings for publishing.
func (s *Settings) MinioOptions() catset.MinioOptions {
	return catset.MinioOptions{
		Endpoint:  s.Publish.Endpoint,
		AccessKey: s.Publish.AccessKey,
		SecretKey: s.Publish.SecretKey,
		Bucket:    s.Publish.Bucket,
		Region:    s.Publish.Region,
		UseSSL:    s.Publish.UseSSL,
	}
}

// LogLevel parses Log.Level, defaulting to info.
func (s *Settings) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
