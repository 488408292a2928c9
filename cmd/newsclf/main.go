// Command newsclf trains and serves the fake news classifier.
//
//	newsclf preprocess            clean and deduplicate the raw CSVs
//	newsclf train                 fit every candidate and keep the best
//	newsclf evaluate              rescore the saved models
//	newsclf predict -title ...    classify one article
//	newsclf serve                 run the HTTP API and web page
//	newsclf worker                classify articles from Kafka
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	name := path.Base(os.Args[0])
	env := &environment{}
	flag.StringVar(&env.configPath, "config", "", "path to the YAML config (default: $NEWSCLF_CONFIG, then ./newsclf.yaml)")

	cdr := subcommands.NewCommander(flag.CommandLine, name)
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")
	cdr.Register(&preprocessCmd{env: env}, "training")
	cdr.Register(&trainCmd{env: env}, "training")
	cdr.Register(&evaluateCmd{env: env}, "training")
	cdr.Register(&predictCmd{env: env}, "inference")
	cdr.Register(&serveCmd{env: env}, "inference")
	cdr.Register(&workerCmd{env: env}, "inference")
	cdr.ImportantFlag("config")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(int(cdr.Execute(ctx)))
}
