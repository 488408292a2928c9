package log

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
)

// Output formats accepted by Options.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatCloud   = "cloud"
)

// Options configures the process-wide logger.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Provider builds loggers from Options. It implements LoggerProvider.
type Provider struct {
	mu   sync.RWMutex
	opts Options
	lvl  Level
	root Logger
}

// NewProvider validates opts and builds the root logger.
func NewProvider(opts Options) (*Provider, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	switch opts.Format {
	case "":
		opts.Format = FormatConsole
	case FormatConsole, FormatJSON, FormatCloud:
	default:
		return nil, errors.NewValidationError("log.format", "must be console, json or cloud", opts.Format)
	}
	p := &Provider{opts: opts}
	p.SetLevel(lvl)
	return p, nil
}

func (p *Provider) build(level Level) Logger {
	switch p.opts.Format {
	case FormatCloud:
		return NewSlogLogger(slog.New(NewCloudHandler(p.opts.Output, level)))
	case FormatJSON:
		return NewZerologLogger(p.opts.Output, level, false)
	default:
		return NewZerologLogger(p.opts.Output, level, true)
	}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *Provider) GetLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *Provider) GetLoggerWithName(name string) Logger {
	return p.GetLogger().With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *Provider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lvl = level
	p.root = p.build(level)
}

var (
	providerMu      sync.RWMutex
	defaultProvider LoggerProvider = mustProvider(Options{Level: "info", Format: FormatConsole})
)

func mustProvider(opts Options) *Provider {
	p, err := NewProvider(opts)
	if err != nil {
		panic(err)
	}
	return p
}

// Setup installs a provider built from opts as the process default and
// routes library warnings (pkg/errors.Warn) to it.
func Setup(opts Options) (Logger, error) {
	p, err := NewProvider(opts)
	if err != nil {
		return nil, err
	}
	SetProvider(p)
	errors.SetZerologWarnFunc(func(w error) {
		GetLoggerWithName("warnings").Warn(w.Error(), "warning", w)
	})
	return p.GetLogger(), nil
}

// SetProvider replaces the process default provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	defaultProvider = p
}

func currentProvider() LoggerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return defaultProvider
}

// GetLogger returns the process default logger.
func GetLogger() Logger {
	return currentProvider().GetLogger()
}

// GetLoggerWithName returns the default logger tagged with a component name.
func GetLoggerWithName(name string) Logger {
	return currentProvider().GetLoggerWithName(name)
}
