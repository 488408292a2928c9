package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/internal/pipeline"
	"github.com/fatih/color"
	"github.com/google/subcommands"
)

type preprocessCmd struct {
	env           *environment
	out           string
	keepPublisher bool
}

func (*preprocessCmd) Name() string     { return "preprocess" }
func (*preprocessCmd) Synopsis() string { return "clean and deduplicate the raw news CSVs" }
func (*preprocessCmd) Usage() string {
	return `preprocess [-out path] [-keep-publisher]:
  Read every data.sources CSV, clean and deduplicate the articles and write
  the dataset used by train.
`
}

func (c *preprocessCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "out", "", "override data.cleaned")
	f.BoolVar(&c.keepPublisher, "keep-publisher", false, "keep leading \"CITY (Publisher) -\" prefixes")
}

func (c *preprocessCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, st := c.env.load()
	if cfg == nil {
		return st
	}
	if c.out != "" {
		cfg.Data.Cleaned = c.out
	}
	if c.keepPublisher {
		cfg.Data.KeepPublisher = true
	}

	stats, err := dataset.Build(ctx, cfg)
	if err != nil {
		return fail("preprocessing", err)
	}
	color.Green("\n✓ Wrote %d articles to %s\n", stats.Kept, cfg.Data.Cleaned)
	fmt.Printf("  raw %d, duplicates %d, empty %d, fake %d, real %d\n",
		stats.Raw, stats.Duplicates, stats.Empty, stats.Fake, stats.Real)
	return subcommands.ExitSuccess
}

type trainCmd struct {
	env        *environment
	noProgress bool
}

func (*trainCmd) Name() string     { return "train" }
func (*trainCmd) Synopsis() string { return "train every candidate model and keep the most accurate" }
func (*trainCmd) Usage() string {
	return `train [-no-progress]:
  Split the cleaned dataset, fit the TF-IDF vectorizer and every candidate,
  score them on the held-out split and write the artifacts of the best one.
`
}

func (c *trainCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.noProgress, "no-progress", false, "disable the progress bar")
}

func (c *trainCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, st := c.env.load()
	if cfg == nil {
		return st
	}

	var opts pipeline.Options
	if !c.noProgress {
		total := len(cfg.Models.Candidates)
		if total == 0 {
			total = len(config.DefaultCandidates)
		}
		bar := getProgressBar(total, "Training")
		opts.Progress = func(e pipeline.Event) {
			switch e.Stage {
			case pipeline.StageVectorize:
				bar.Describe(color.BlueString("Vectorizing"))
			case pipeline.StageFit:
				bar.Describe(color.BlueString("Training %s", candidate.DisplayName(e.Model)))
			case pipeline.StageEvaluate:
				_ = bar.Add(1)
			case pipeline.StagePersist:
				bar.Describe(color.BlueString("Saving"))
				_ = bar.Finish()
			}
		}
	}

	res, err := pipeline.Train(ctx, cfg, opts)
	if err != nil {
		return fail("training", err)
	}
	printMetrics(res.Manifest)
	printReport(res.Manifest.BestModel, res.Reports[res.Manifest.BestModel])
	color.Green("\n✓ Best model: %s\n", candidate.DisplayName(res.Manifest.BestModel))
	fmt.Printf("  manifest %s\n  chart    %s\n  metrics  %s\n",
		artifact.NewStore(cfg.Artifacts.Dir).ManifestPath(), res.ChartPath, res.MetricsPath)
	return subcommands.ExitSuccess
}

type evaluateCmd struct {
	env *environment
	all bool
}

func (*evaluateCmd) Name() string     { return "evaluate" }
func (*evaluateCmd) Synopsis() string { return "rescore the saved models on the held-out split" }
func (*evaluateCmd) Usage() string {
	return `evaluate [-all]:
  Reload the last training run, recompute its metrics on the same split and
  redraw the comparison chart.
`
}

func (c *evaluateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.all, "all", false, "print the classification report of every model")
}

func (c *evaluateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, st := c.env.load()
	if cfg == nil {
		return st
	}
	res, err := pipeline.Evaluate(ctx, cfg)
	if err != nil {
		return fail("evaluating", err)
	}
	printMetrics(res.Manifest)
	if c.all {
		for _, m := range res.Manifest.Metrics {
			printReport(m.Name, res.Reports[m.Name])
		}
	} else {
		printReport(res.Manifest.BestModel, res.Reports[res.Manifest.BestModel])
	}
	color.Green("\n✓ Chart written to %s\n", res.ChartPath)
	return subcommands.ExitSuccess
}
