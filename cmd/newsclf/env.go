package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/fatih/color"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

// environment is shared by every subcommand.
type environment struct {
	configPath string
}

// load reads and validates the configuration and installs the logger.
func (e *environment) load() (*config.Config, subcommands.ExitStatus) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		color.Red("Error loading config: %v\n", err)
		return nil, subcommands.ExitFailure
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		color.Red("Invalid configuration:\n")
		for _, ve := range errs {
			fmt.Fprintf(os.Stderr, "  - %s\n", ve.Error())
		}
		return nil, subcommands.ExitUsageError
	}
	if _, err := log.Setup(log.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}); err != nil {
		color.Red("Error configuring logging: %v\n", err)
		return nil, subcommands.ExitFailure
	}
	return cfg, subcommands.ExitSuccess
}

// fail prints err and returns the failure status.
func fail(what string, err error) subcommands.ExitStatus {
	color.Red("Error %s: %v\n", what, err)
	return subcommands.ExitFailure
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("models"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// printMetrics prints one row per model with the selected one highlighted.
func printMetrics(m *artifact.Manifest) {
	color.Cyan("\n%-22s %9s %9s %9s %9s %9s %9s %9s\n",
		"model", "accuracy", "precision", "recall", "f1", "auc", "log_loss", "train_s")
	for _, mm := range m.Metrics {
		line := fmt.Sprintf("%-22s %9.4f %9.4f %9.4f %9.4f %9.4f %9.4f %9.2f",
			candidate.DisplayName(mm.Name), mm.Accuracy, mm.Precision, mm.Recall, mm.F1, mm.AUC, mm.LogLoss, mm.TrainSeconds)
		if mm.Name == m.BestModel {
			color.Green("%s  <- best\n", line)
			continue
		}
		fmt.Println(line)
	}
}

func printReport(name string, rep *metrics.Report) {
	if rep == nil {
		return
	}
	color.Cyan("\nClassification report (%s)\n", candidate.DisplayName(name))
	fmt.Print(indent(rep.String()))
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n") + "\n"
}
