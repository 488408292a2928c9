// Package server exposes the classifier over HTTP and serves the web page.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/internal/predict"
	"github.com/YuminosukeSato/newsclf/internal/scrape"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

//go:embed static
var staticFiles embed.FS

// Predictor is the part of predict.Service the handlers use.
type Predictor interface {
	Predict(ctx context.Context, title, text string) (predict.Result, error)
	Loaded() bool
	ModelName() string
	Manifest() *artifact.Manifest
}

// Fetcher downloads an article for URL predictions.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (scrape.Article, error)
}

// Server is the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	pred    Predictor
	fetch   Fetcher
	limiter *rate.Limiter
	logger  log.Logger
}

// New builds a server. fetch may be nil when URL predictions are disabled.
func New(cfg config.ServerConfig, pred Predictor, fetch Fetcher) *Server {
	s := &Server{
		cfg:    cfg,
		pred:   pred,
		fetch:  fetch,
		logger: log.GetLoggerWithName("server"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/predict", s.handlePredict)
		r.Get("/models", s.handleModels)
		if s.cfg.EnableURLPredict && s.fetch != nil {
			r.Post("/predict/url", s.handlePredictURL)
		}
	})
	r.Handle("/*", s.staticHandler())
	return r
}

func (s *Server) staticHandler() http.Handler {
	if s.cfg.StaticDir != "" {
		return http.FileServer(http.Dir(s.cfg.StaticDir))
	}
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// Run serves on cfg.BindAddr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.BindAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", ln.Addr().String(), log.ModelNameKey, s.pred.ModelName())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	s.logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Model       string `json:"model,omitempty"`
}

type predictRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type urlResponse struct {
	predict.Result
	Article scrape.Article `json:"article"`
}

type modelsResponse struct {
	RunID     string                  `json:"run_id"`
	CreatedAt time.Time               `json:"created_at"`
	BestModel string                  `json:"best_model"`
	Features  int                     `json:"features"`
	Metrics   []artifact.ModelMetrics `json:"metrics"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		ModelLoaded: s.pred.Loaded(),
		Model:       s.pred.ModelName(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.pred.Predict(r.Context(), req.Title, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Debug("Prediction served",
		log.RequestIDKey, middleware.GetReqID(r.Context()),
		log.LabelKey, res.Label,
		log.ConfidenceKey, res.Confidence,
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePredictURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.pred.Loaded() {
		s.writeError(w, r, predict.ErrModelNotLoaded)
		return
	}
	article, err := s.fetch.Fetch(r.Context(), req.URL)
	if err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Warn("Fetch failed", log.RequestIDKey, middleware.GetReqID(r.Context()), "url", req.URL, "error", err.Error())
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	res, err := s.pred.Predict(r.Context(), article.Title, article.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{Result: res, Article: article})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	m := s.pred.Manifest()
	if m == nil {
		s.writeError(w, r, predict.ErrModelNotLoaded)
		return
	}
	writeJSON(w, http.StatusOK, modelsResponse{
		RunID:     m.RunID,
		CreatedAt: m.CreatedAt,
		BestModel: m.BestModel,
		Features:  m.Features,
		Metrics:   m.Metrics,
	})
}

// decode reads a JSON body, answering 400 or 413 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps service errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *errors.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, predict.ErrModelNotLoaded):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "model not loaded; run `newsclf train` first"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("Request canceled", log.RequestIDKey, middleware.GetReqID(r.Context()), "error", err.Error())
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "request canceled"})
	default:
		s.logger.Error("Request failed", log.RequestIDKey, middleware.GetReqID(r.Context()), "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
