package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	catset "github.com/anatolykoptev/go-catset"
	"github.com/anatolykoptev/go-catset/detect/tflite"
	"github.com/anatolykoptev/go-catset/internal/conf"
)

// app holds the loaded settings and the flags that override them.
type app struct {
	configFile string
	settings   *conf.Settings

	root     string
	source   string
	sourceID string
	posts    int
	perIter  int
	seed     int64
	model    string
	logLevel string
	logJSON  bool
}

func rootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "catset",
		Short:         "Curate a single-cat gender detection dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configFile, "config", "c", "", "config file (default ./catset.yaml)")
	f.StringVar(&a.root, "root", "", "dataset root directory")
	f.StringVar(&a.source, "source", "", "post source: reddit, vk or telegram")
	f.StringVar(&a.sourceID, "source-id", "", "subreddit, wall owner id or channel")
	f.IntVar(&a.posts, "posts", 0, "posts to request")
	f.IntVar(&a.perIter, "per-iteration", 0, "posts per ingestion batch")
	f.Int64Var(&a.seed, "seed", 0, "split shuffle seed (0 = random)")
	f.StringVar(&a.model, "model", "", "detector model (.tflite)")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&a.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		a.runCommand(),
		a.ingestCommand(),
		a.labelCommand(),
		a.splitCommand(),
		a.checkCommand(),
		a.publishCommand(),
	)
	return root
}

// setup loads settings, applies changed flags and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := conf.Load(a.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		s.Root = a.root
	}
	if flags.Changed("source") {
		s.Source.Kind = a.source
	}
	if flags.Changed("source-id") {
		s.Source.ID = a.sourceID
		s.Source.Reddit.Subreddit = ""
		s.Source.Telegram.Channel = ""
	}
	if flags.Changed("posts") {
		s.Source.Posts = a.posts
	}
	if flags.Changed("per-iteration") {
		s.Source.PerIteration = a.perIter
	}
	if flags.Changed("seed") {
		s.Split.Seed = a.seed
	}
	if flags.Changed("model") {
		s.Detector.ModelPath = a.model
	}
	if flags.Changed("log-level") {
		s.Log.Level = a.logLevel
	}
	if flags.Changed("log-json") {
		s.Log.JSON = a.logJSON
	}
	if err := s.Validate(); err != nil {
		return err
	}
	a.settings = s

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), s).With("run_id", uuid.NewString(), "command", cmd.Name()))
	return nil
}

func newLogger(w io.Writer, s *conf.Settings) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: s.LogLevel()}
	if s.Log.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) config() catset.Config { return a.settings.CatsetConfig() }

func (a *app) postSource() (catset.PostSource, error) {
	return catset.NewPostSource(a.config(), a.settings.SourceOptions())
}

func (a *app) classifier() (*catset.TextClassifier, error) {
	return catset.NewTextClassifier(a.settings.ClassifierOptions())
}

func (a *app) detector() (*tflite.Detector, error) {
	return tflite.New(tflite.Options{
		ModelPath: a.settings.Detector.ModelPath,
		Threads:   a.settings.Detector.Threads,
	})
}

func (a *app) publisher() (catset.Publisher, error) {
	return catset.NewMinioPublisher(a.settings.MinioOptions())
}
