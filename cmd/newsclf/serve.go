package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/internal/predict"
	"github.com/YuminosukeSato/newsclf/internal/scrape"
	"github.com/YuminosukeSato/newsclf/internal/server"
	"github.com/YuminosukeSato/newsclf/internal/worker"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/fatih/color"
	"github.com/google/subcommands"
)

type predictCmd struct {
	env    *environment
	title  string
	text   string
	url    string
	asJSON bool
}

func (*predictCmd) Name() string     { return "predict" }
func (*predictCmd) Synopsis() string { return "classify one article with the best trained model" }
func (*predictCmd) Usage() string {
	return `predict (-title t -text body | -url address) [-json]:
  Classify an article given directly or fetched from a web page.
`
}

func (c *predictCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.title, "title", "", "article headline")
	f.StringVar(&c.text, "text", "", "article body")
	f.StringVar(&c.url, "url", "", "fetch the article from this page instead")
	f.BoolVar(&c.asJSON, "json", false, "print the result as JSON")
}

func (c *predictCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.url == "" && strings.TrimSpace(c.title+c.text) == "" {
		color.Red("Either -title/-text or -url is required\n")
		return subcommands.ExitUsageError
	}
	if c.url != "" && c.title+c.text != "" {
		color.Red("-url cannot be combined with -title or -text\n")
		return subcommands.ExitUsageError
	}
	cfg, st := c.env.load()
	if cfg == nil {
		return st
	}

	svc := predict.NewService(artifact.NewStore(cfg.Artifacts.Dir))
	if err := svc.Load(); err != nil {
		if errors.Is(err, artifact.ErrNoManifest) {
			color.Red("No trained model in %s, run train first\n", cfg.Artifacts.Dir)
			return subcommands.ExitFailure
		}
		return fail("loading model", err)
	}

	title, body := c.title, c.text
	if c.url != "" {
		article, err := scrape.New(cfg.Scraper).Fetch(ctx, c.url)
		if err != nil {
			return fail("fetching article", err)
		}
		title, body = article.Title, article.Text
	}

	res, err := svc.Predict(ctx, title, body)
	if err != nil {
		return fail("predicting", err)
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fail("encoding result", err)
		}
		return subcommands.ExitSuccess
	}

	if title != "" {
		fmt.Printf("Title: %s\n", title)
	}
	paint := color.New(color.FgGreen, color.Bold)
	if res.Label == dataset.LabelName(dataset.LabelFake) {
		paint = color.New(color.FgRed, color.Bold)
	}
	paint.Printf("%s", res.Label)
	fmt.Printf(" (confidence %.1f%%)\n", res.Confidence*100)
	fmt.Printf("  fake %.4f  real %.4f  model %s\n",
		res.Probabilities.Fake, res.Probabilities.Real, candidate.DisplayName(svc.ModelName()))
	return subcommands.ExitSuccess
}

type serveCmd struct {
	env  *environment
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the prediction API and web page" }
func (*serveCmd) Usage() string {
	return `serve [-addr host:port]:
  Serve /health, /api/predict and the static frontend. The model is reloaded
  whenever a training run publishes a new manifest.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "override server.bind_addr")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, st := c.env.load()
	if cfg == nil {
		return st
	}
	if c.addr != "" {
		cfg.Server.BindAddr = c.addr
	}

	svc := predict.NewService(artifact.NewStore(cfg.Artifacts.Dir))
	if err := svc.Load(); err != nil {
		if !errors.Is(err, artifact.ErrNoManifest) {
			return fail("loading model", err)
		}
		color.Yellow("No trained model yet; /api/predict answers 503 until train runs\n")
	}
	if !cfg.Server.DisableWatch {
		if err := svc.Watch(ctx); err != nil {
			return fail("watching artifacts", err)
		}
	}

	var fetch server.Fetcher
	if cfg.Server.EnableURLPredict {
		fetch = scrape.New(cfg.Scraper)
	}

	color.Cyan("Listening on http://%s\n", cfg.Server.BindAddr)
	if err := server.New(cfg.Server, svc, fetch).Run(ctx); err != nil {
		return fail("serving", err)
	}
	return subcommands.ExitSuccess
}

type workerCmd struct {
	env *environment
}

func (*workerCmd) Name() string     { return "worker" }
func (*workerCmd) Synopsis() string { return "classify articles streamed through Kafka" }
func (*workerCmd) Usage() string {
	return `worker:
  Consume kafka.input_topic, publish classifications to kafka.output_topic and
  park messages that cannot be classified on the dead-letter topic.
`
}

func (*workerCmd) SetFlags(*flag.FlagSet) {}

func (c *workerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, st := c.env.load()
	if cfg == nil {
		return st
	}
	svc := predict.NewService(artifact.NewStore(cfg.Artifacts.Dir))
	if err := svc.Load(); err != nil {
		return fail("loading model", err)
	}
	if err := svc.Watch(ctx); err != nil {
		return fail("watching artifacts", err)
	}

	w := worker.NewKafka(cfg.Kafka, svc)
	defer func() {
		if err := w.Close(); err != nil {
			color.Red("Error closing kafka clients: %v\n", err)
		}
	}()
	if err := w.Run(ctx); err != nil {
		return fail("consuming", err)
	}
	return subcommands.ExitSuccess
}
