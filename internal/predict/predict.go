// Package predict serves predictions from the model selected by the last
// training run and reloads it when a new run is published.
package predict

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/feature_extraction/text"
	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/YuminosukeSato/newsclf/preprocessing"
	"github.com/fsnotify/fsnotify"
)

// ErrModelNotLoaded is returned by Predict before any run has been loaded.
var ErrModelNotLoaded = errors.New("model not loaded")

// Probabilities are the class probabilities of one article.
type Probabilities struct {
	Fake float64 `json:"fake"`
	Real float64 `json:"real"`
}

// Result is the classification of one article.
type Result struct {
	Label         string        `json:"label"`
	Confidence    float64       `json:"confidence"`
	Probabilities Probabilities `json:"probabilities"`
}

// loaded is everything one prediction needs; it is replaced as a whole.
type loaded struct {
	manifest *artifact.Manifest
	vec      *text.TfidfVectorizer
	clf      model.Classifier
	clean    preprocessing.CleanOptions
}

// Service classifies articles. It is safe for concurrent use.
type Service struct {
	store  *artifact.Store
	logger log.Logger

	mu  sync.RWMutex
	cur *loaded
}

// NewService returns a service reading artifacts from store. Call Load before
// serving.
func NewService(store *artifact.Store) *Service {
	return &Service{store: store, logger: log.GetLoggerWithName("predict")}
}

// Load reads the manifest and swaps in its best model. On failure the
// previously loaded model stays in place.
func (s *Service) Load() error {
	m, err := s.store.ReadManifest()
	if err != nil {
		return err
	}
	vec, err := s.store.LoadVectorizer(m)
	if err != nil {
		return err
	}
	clf, err := s.store.LoadModel(m, m.BestModel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = &loaded{manifest: m, vec: vec, clf: clf, clean: dataset.CleanOptions(m.KeepPublisher)}
	s.mu.Unlock()

	s.logger.Info("Model loaded",
		log.ModelNameKey, m.BestModel,
		log.RunIDKey, m.RunID,
		log.FeaturesKey, m.Features,
	)
	return nil
}

func (s *Service) current() *loaded {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Loaded reports whether a model is available.
func (s *Service) Loaded() bool { return s.current() != nil }

// Manifest returns the manifest of the loaded run, or nil.
func (s *Service) Manifest() *artifact.Manifest {
	if cur := s.current(); cur != nil {
		return cur.manifest
	}
	return nil
}

// ModelName returns the name of the serving model, or "".
func (s *Service) ModelName() string {
	if m := s.Manifest(); m != nil {
		return m.BestModel
	}
	return ""
}

// Predict classifies one article. Title and text are cleaned the same way the
// training data was; an article with nothing left is a ValidationError.
func (s *Service) Predict(ctx context.Context, title, body string) (_ Result, err error) {
	defer errors.Recover(&err, "predict.Service.Predict")
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	cur := s.current()
	if cur == nil {
		return Result{}, ErrModelNotLoaded
	}

	doc := preprocessing.Combine(
		preprocessing.CleanText(title, cur.clean),
		preprocessing.CleanText(body, cur.clean),
	)
	if doc == "" {
		return Result{}, errors.NewValidationError("content", "title and text are empty after cleaning", nil)
	}

	X, err := cur.vec.Transform([]string{doc})
	if err != nil {
		return Result{}, errors.Wrap(err, "vectorize article")
	}
	proba, err := cur.clf.PredictProba(X)
	if err != nil {
		return Result{}, errors.Wrap(err, "predict article")
	}

	var p Probabilities
	if col := candidate.ColumnOf(cur.clf.Classes(), dataset.LabelReal); col >= 0 {
		p.Real = proba.At(0, col)
	}
	if col := candidate.ColumnOf(cur.clf.Classes(), dataset.LabelFake); col >= 0 {
		p.Fake = proba.At(0, col)
	}
	return NewResult(p), nil
}

// NewResult labels p. Ties go to "Fake News"; confidence is the larger
// probability.
func NewResult(p Probabilities) Result {
	if p.Real > p.Fake {
		return Result{Label: dataset.LabelName(dataset.LabelReal), Confidence: p.Real, Probabilities: p}
	}
	return Result{Label: dataset.LabelName(dataset.LabelFake), Confidence: p.Fake, Probabilities: p}
}

// Watch reloads the model whenever a new manifest is published. It returns
// once the watcher is running; watching stops when ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	return s.watch(ctx, nil)
}

// watch calls reloaded after every reload attempt.
func (s *Service) watch(ctx context.Context, reloaded func(error)) error {
	dir := s.store.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch %s", dir)
	}
	manifest := filepath.Clean(s.store.ManifestPath())

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != manifest {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				err := s.Load()
				if err != nil {
					s.logger.Warn("Reload failed", "error", err.Error(), log.PathKey, manifest)
				}
				if reloaded != nil {
					reloaded(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}
