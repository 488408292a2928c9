// Package chart renders the model comparison chart.
package chart

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Bar is one labelled value.
type Bar struct {
	Label string
	Value float64
}

// Options control the rendered image.
type Options struct {
	Title  string
	YLabel string
	Width  vg.Length
	Height vg.Length
	// Highlight is the label drawn in a distinct colour, usually the best model.
	Highlight string
}

// DefaultOptions renders an accuracy chart.
func DefaultOptions() Options {
	return Options{
		Title:  "Model Comparison (held-out accuracy)",
		YLabel: "Accuracy",
		Width:  8 * vg.Inch,
		Height: 5 * vg.Inch,
	}
}

var supported = map[string]bool{".png": true, ".svg": true, ".pdf": true, ".jpg": true, ".jpeg": true}

// Render writes a bar chart to path. The format follows the file extension.
func Render(path string, bars []Bar, opts Options) error {
	if len(bars) == 0 {
		return errors.NewValueError("chart.Render", "nothing to plot")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !supported[ext] {
		return errors.NewValidationError("chart", "unsupported image format", ext)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		d := DefaultOptions()
		opts.Width, opts.Height = d.Width, d.Height
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.Y.Label.Text = opts.YLabel
	p.Y.Min = 0
	p.Y.Max = 1.05
	p.Add(plotter.NewGrid())

	names := make([]string, len(bars))
	for i, b := range bars {
		names[i] = b.Label
		values := make(plotter.Values, len(bars))
		values[i] = b.Value
		bc, err := plotter.NewBarChart(values, vg.Points(40))
		if err != nil {
			return errors.Wrap(err, "build bar chart")
		}
		bc.LineStyle.Width = vg.Length(0)
		bc.Color = plotutil.Color(1)
		if b.Label == opts.Highlight {
			bc.Color = plotutil.Color(2)
		}
		p.Add(bc)

		labels, err := plotter.NewLabels(plotter.XYLabels{
			XYs:    []plotter.XY{{X: float64(i), Y: b.Value}},
			Labels: []string{fmt.Sprintf("%.3f", b.Value)},
		})
		if err != nil {
			return errors.Wrap(err, "build value labels")
		}
		labels.Offset = vg.Point{X: -vg.Points(12), Y: vg.Points(4)}
		p.Add(labels)
	}
	p.NominalX(names...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return errors.Wrapf(err, "save chart %s", path)
	}
	return nil
}
