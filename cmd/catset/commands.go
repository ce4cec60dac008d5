package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	catset "github.com/anatolykoptev/go-catset"
)

func (a *app) runCommand() *cobra.Command {
	var skipIngest, publish bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest posts, label them, split the dataset and write data.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.config()
			opts := catset.ETLOptions{}
			if !skipIngest {
				src, err := a.postSource()
				if err != nil {
					return err
				}
				opts.Source = src
			}
			cls, err := a.classifier()
			if err != nil {
				return err
			}
			det, err := a.detector()
			if err != nil {
				return err
			}
			defer det.Close()

			opts.Classifier = cls
			opts.Ledger = catset.NewLedger(cfg)
			opts.Labeler = catset.NewImageLabeler(cfg, det, opts.Ledger)
			if publish || a.settings.Publish.Enabled {
				pub, err := a.publisher()
				if err != nil {
					return err
				}
				opts.Publisher = pub
			}

			etl, err := catset.NewETL(cfg, opts)
			if err != nil {
				return err
			}
			stats, err := etl.Run(cmd.Context(), catset.RunOptions{
				SourceID:      a.settings.SourceID(),
				Posts:         a.settings.Source.Posts,
				PerIteration:  a.settings.Source.PerIteration,
				BatchDelay:    a.settings.Source.BatchDelay,
				SkipIngest:    skipIngest,
				PublishPrefix: a.settings.Publish.Prefix,
			})
			printProcess(cmd.OutOrStdout(), stats.Process, etl.Ledger())
			printSplit(cmd.OutOrStdout(), stats.Split)
			if stats.Published > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "published: %d objects\n", stats.Published)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&skipIngest, "skip-ingest", false, "label what is already on disk")
	cmd.Flags().BoolVar(&publish, "publish", false, "upload the splits to the configured bucket")
	return cmd
}

func (a *app) ingestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch posts into data/texts and data/images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := a.postSource()
			if err != nil {
				return err
			}
			etl, err := catset.NewETL(a.config(), catset.ETLOptions{Source: src})
			if err != nil {
				return err
			}
			n, err := etl.Ingest(cmd.Context(), a.settings.SourceID(),
				a.settings.Source.Posts, a.settings.Source.PerIteration, a.settings.Source.BatchDelay)
			fmt.Fprintf(cmd.OutOrStdout(), "requested: %d posts from %s\n", n, src.Name())
			return err
		},
	}
}

func (a *app) labelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "label",
		Short: "Classify unlabeled captions and write label files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.config()
			cls, err := a.classifier()
			if err != nil {
				return err
			}
			det, err := a.detector()
			if err != nil {
				return err
			}
			defer det.Close()

			ledger := catset.NewLedger(cfg)
			etl, err := catset.NewETL(cfg, catset.ETLOptions{
				Classifier: cls,
				Labeler:    catset.NewImageLabeler(cfg, det, ledger),
				Ledger:     ledger,
			})
			if err != nil {
				return err
			}
			stats, err := etl.ProcessTexts(cmd.Context())
			printProcess(cmd.OutOrStdout(), stats, ledger)
			return err
		},
	}
}

func (a *app) splitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "split",
		Short: "Rebuild train/valid/test and data.yaml from labeled pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := catset.NewPartitioner(a.config())
			if err != nil {
				return err
			}
			stats, err := p.Organize()
			if err != nil {
				return err
			}
			printSplit(cmd.OutOrStdout(), stats)
			path, err := p.WriteManifest()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest: %s\n", path)
			return nil
		},
	}
}

func (a *app) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List images without labels and labels without images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := catset.NewPartitioner(a.config())
			if err != nil {
				return err
			}
			o, err := p.Orphans()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "images without labels: %d\n", len(o.ImagesWithoutLabels))
			for _, path := range o.ImagesWithoutLabels {
				fmt.Fprintf(out, "  %s\n", path)
			}
			fmt.Fprintf(out, "labels without images: %d\n", len(o.LabelsWithoutImages))
			for _, path := range o.LabelsWithoutImages {
				fmt.Fprintf(out, "  %s\n", path)
			}
			return nil
		},
	}
}

func (a *app) publishCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the split trees and data.yaml to S3-compatible storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, err := a.publisher()
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = a.settings.Publish.Prefix
			}
			cfg := a.config()
			n, err := catset.PublishDataset(cmd.Context(), pub, cfg.Layout(), prefix)
			fmt.Fprintf(cmd.OutOrStdout(), "published: %d objects under %s\n", n, prefix)
			return err
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix")
	return cmd
}

func printProcess(w io.Writer, s catset.ProcessStats, ledger *catset.Ledger) {
	fmt.Fprintf(w, "texts: %d, already processed: %d, classified: %d\n", s.Texts, s.Processed, s.Classified)
	fmt.Fprintf(w, "labeled: %d texts, %d images\n", s.Labeled, s.LabeledImages)
	if ledger == nil {
		return
	}
	for _, line := range catset.SkipSummary(ledger.Skipped()) {
		fmt.Fprintf(w, "skipped %s\n", line)
	}
}

func printSplit(w io.Writer, s catset.SplitStats) {
	fmt.Fprintf(w, "split: train %d, valid %d, test %d\n", s.Train, s.Val, s.Test)
}
