// Package dataset reads raw news CSVs, cleans and deduplicates them and
// produces the stratified train/test split used for model selection.
package dataset

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/YuminosukeSato/newsclf/preprocessing"
)

// Labels. Class 1 is the positive class of the binary metrics.
const (
	LabelFake = 0
	LabelReal = 1
)

// LabelName returns the display name served by the API.
func LabelName(label int) string {
	if label == LabelReal {
		return "Real News"
	}
	return "Fake News"
}

// Article is one labelled news item.
type Article struct {
	Title string
	Text  string
	Label int
}

// Content is the single document the vectorizer sees.
func (a Article) Content() string { return preprocessing.Combine(a.Title, a.Text) }

// Stats summarises a preprocessing run.
type Stats struct {
	Raw        int
	Duplicates int
	Empty      int
	Kept       int
	Fake       int
	Real       int
}

// ParseLabel accepts 0/1, fake/real and false/true in any case.
func ParseLabel(raw string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "fake", "false":
		return LabelFake, nil
	case "1", "real", "true":
		return LabelReal, nil
	}
	return 0, errors.NewValueError("dataset.ParseLabel", "unknown label "+strconv.Quote(raw))
}

// CleanOptions returns the text cleaning used for training and serving.
func CleanOptions(keepPublisher bool) preprocessing.CleanOptions {
	opts := preprocessing.DefaultCleanOptions
	opts.StripPublisherPrefix = !keepPublisher
	return opts
}

// LoadSource reads one raw CSV. The header must contain a text column; title
// is optional. Without a fixed label a label (or class) column is required.
func LoadSource(src config.SourceConfig) ([]Article, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open source %s", src.Path)
	}
	defer f.Close()

	fixed := -1
	if src.Label != "" {
		if fixed, err = ParseLabel(src.Label); err != nil {
			return nil, err
		}
	}
	articles, err := readArticles(f, fixed)
	if err != nil {
		return nil, errors.Wrapf(err, "read source %s", src.Path)
	}
	return articles, nil
}

// readArticles parses CSV rows. fixed >= 0 overrides the label column.
func readArticles(r io.Reader, fixed int) ([]Article, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header")
		}
		return nil, err
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	textCol, ok := cols["text"]
	if !ok {
		return nil, errors.New("missing text column")
	}
	titleCol, hasTitle := cols["title"]
	labelCol, hasLabel := cols["label"]
	if !hasLabel {
		labelCol, hasLabel = cols["class"]
	}
	if fixed < 0 && !hasLabel {
		return nil, errors.New("missing label column and no fixed label")
	}

	var out []Article
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		a := Article{Text: field(rec, textCol)}
		if hasTitle {
			a.Title = field(rec, titleCol)
		}
		if fixed >= 0 {
			a.Label = fixed
		} else if a.Label, err = ParseLabel(field(rec, labelCol)); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, a)
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// Preprocess cleans every article, drops those with no content left and
// removes duplicates; the first occurrence of a fingerprint wins.
func Preprocess(ctx context.Context, raw []Article, opts preprocessing.CleanOptions) ([]Article, Stats, error) {
	stats := Stats{Raw: len(raw)}
	seen := make(map[string]struct{}, len(raw))
	out := make([]Article, 0, len(raw))
	for i, a := range raw {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		title := preprocessing.CleanText(a.Title, opts)
		text := preprocessing.CleanText(a.Text, opts)
		if title == "" && text == "" {
			stats.Empty++
			continue
		}
		fp := preprocessing.Fingerprint(title, text)
		if _, dup := seen[fp]; dup {
			stats.Duplicates++
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, Article{Title: title, Text: text, Label: a.Label})
		if a.Label == LabelReal {
			stats.Real++
		} else {
			stats.Fake++
		}
	}
	stats.Kept = len(out)
	return out, stats, nil
}

// Build loads every configured source, preprocesses the union and writes the
// cleaned CSV.
func Build(ctx context.Context, cfg *config.Config) (Stats, error) {
	logger := log.GetLoggerWithName("dataset")
	if len(cfg.Data.Sources) == 0 {
		return Stats{}, errors.NewValidationError("data.sources", "at least one source is required", nil)
	}
	var raw []Article
	for _, src := range cfg.Data.Sources {
		articles, err := LoadSource(src)
		if err != nil {
			return Stats{}, err
		}
		logger.Info("Source loaded", log.PathKey, src.Path, log.SamplesKey, len(articles))
		raw = append(raw, articles...)
	}

	cleaned, stats, err := Preprocess(ctx, raw, CleanOptions(cfg.Data.KeepPublisher))
	if err != nil {
		return stats, err
	}
	if err := WriteCSV(cfg.Data.Cleaned, cleaned); err != nil {
		return stats, err
	}
	logger.Info("Dataset written",
		log.PathKey, cfg.Data.Cleaned,
		log.SamplesKey, stats.Kept,
		log.DuplicatesKey, stats.Duplicates,
		"empty", stats.Empty,
	)
	return stats, nil
}

// WriteCSV writes articles as title,text,label through a temporary file.
func WriteCSV(path string, articles []Article) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create data directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cleaned-*.csv")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	w := csv.NewWriter(bw)
	if err := w.Write([]string{"title", "text", "label"}); err != nil {
		tmp.Close()
		return err
	}
	for _, a := range articles {
		if err := w.Write([]string{a.Title, a.Text, strconv.Itoa(a.Label)}); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "publish cleaned dataset")
}

// ReadCSV loads a cleaned dataset written by WriteCSV.
func ReadCSV(path string) ([]Article, error) {
	articles, _, err := ReadCSVDigest(path)
	return articles, err
}

// ReadCSVDigest loads a cleaned dataset and returns the hex SHA-256 of the
// bytes it was parsed from.
func ReadCSVDigest(path string) ([]Article, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()
	h := sha256.New()
	r := io.TeeReader(f, h)
	articles, err := readArticles(r, -1)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read dataset %s", path)
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, "", errors.Wrapf(err, "read dataset %s", path)
	}
	return articles, hex.EncodeToString(h.Sum(nil)), nil
}
