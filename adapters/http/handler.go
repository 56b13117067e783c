// Package http provides the HTTP surface of the admission pipeline.
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pixelpress/pixelpress/adapters/metrics"
	"github.com/pixelpress/pixelpress/app"
	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/job"
	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/domain/sandbox"
	"github.com/pixelpress/pixelpress/ports"
)

// maxUploadBytes caps what the server will read from a request body. Plan
// limits are enforced later with proper error codes; this bound only
// protects the server from unbounded reads.
const maxUploadBytes = 64 << 20

// Handler serves the optimize and usage endpoints.
type Handler struct {
	admission *app.AdmissionService
	usage     ports.UsageStore
	metrics   *metrics.Collector
	logger    zerolog.Logger
	opts      Options
}

// Deps contains dependencies for the handler.
type Deps struct {
	Admission *app.AdmissionService
	Usage     ports.UsageStore
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
}

// Options contains static handler configuration.
type Options struct {
	Production     bool
	RequestTimeout time.Duration
	MetricsEnabled bool
	MetricsPath    string
}

// New creates an HTTP handler.
func New(deps Deps, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Handler{
		admission: deps.Admission,
		usage:     deps.Usage,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
	}
}

// Router builds the chi router with all routes and middleware.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.opts.RequestTimeout))
	r.Use(NewLoggingMiddleware(h.logger))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/optimize", h.handleOptimize)
		r.Get("/usage", h.handleUsage)
	})

	r.Get("/healthz", h.handleHealth)
	r.Get("/version", Version)

	if h.opts.MetricsEnabled {
		r.Handle(h.opts.MetricsPath, promhttp.Handler())
	}

	return r
}

// handleOptimize accepts an image (multipart field "image" or a raw image
// body), runs it through the admission pipeline and returns the optimized
// bytes with savings and quota headers.
func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	data, filename, params, apiErr := parseOptimizeRequest(r)
	if apiErr != nil {
		h.writeError(w, apiErr, requestID)
		return
	}

	req := job.Request{
		APIKey:     extractAPIKey(r),
		Data:       data,
		Filename:   filename,
		Params:     params,
		ModeHeader: r.Header.Get(sandbox.ModeHeader),
		ModeQuery:  r.URL.Query().Get(sandbox.ModeQuery),
		RemoteIP:   r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		RequestID:  requestID,
	}

	result, apiErr := h.admission.Admit(r.Context(), req)
	if apiErr != nil {
		h.writeError(w, apiErr, requestID)
		return
	}

	w.Header().Set("Content-Type", contentType(result.Optimized.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Original-Size", strconv.FormatInt(result.Original.Size, 10))
	w.Header().Set("X-Optimized-Size", strconv.FormatInt(result.Optimized.Size, 10))
	w.Header().Set("X-Savings-Percent", fmt.Sprintf("%.1f", result.Savings.Percent))
	w.Header().Set("X-Operations", strings.Join(result.Operations, ","))
	if result.Sandbox {
		w.Header().Set("X-Sandbox-Mode", "true")
	} else {
		w.Header().Set("X-Quota-Used", strconv.FormatInt(result.Usage.Used, 10))
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(result.Usage.Limit, 10))
		w.Header().Set("X-Quota-Remaining", strconv.FormatInt(result.Usage.Remaining, 10))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

// usageResponse is the JSON body of GET /v1/usage.
type usageResponse struct {
	Plan      string  `json:"plan"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Purchased int64   `json:"purchased_credits"`
	Percent   float64 `json:"percent_used"`
	ResetAt   string  `json:"reset_at"`
	Sandbox   bool    `json:"sandbox,omitempty"`
}

// handleUsage returns the caller's current quota position.
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	rawKey := extractAPIKey(r)
	if rawKey == "" {
		h.writeError(w, apierror.InvalidKey(), requestID)
		return
	}

	snap, cred, apiErr := h.admission.Status(r.Context(), rawKey)
	if apiErr != nil {
		h.writeError(w, apiErr, requestID)
		return
	}

	resp := usageResponse{
		Plan:      cred.PlanTier,
		Used:      snap.Used,
		Limit:     snap.Limit,
		Remaining: snap.Remaining,
		Purchased: cred.PurchasedCredits,
		ResetAt:   cred.ResetAt.UTC().Format(time.RFC3339),
		Sandbox:   cred.Sandbox,
	}
	if snap.Limit > 0 {
		resp.Percent = float64(snap.Used) / float64(snap.Limit) * 100
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports liveness.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version handles version requests.
func Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "pixelpress",
		"version": "1.0.0",
	})
}

// parseOptimizeRequest extracts the image bytes and operation parameters.
// Multipart uploads carry the image in the "image" (or "file") field with
// operations as form fields; raw uploads carry the image as the body with
// operations in the query string.
func parseOptimizeRequest(r *http.Request) ([]byte, string, job.Params, *apierror.Error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = ct
	}

	var (
		data     []byte
		filename string
		values   urlValues
	)

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", job.Params{}, apierror.Validation(
				apierror.CodeNoImage, "Could not parse multipart form", 400, nil)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			file, header, err = r.FormFile("file")
		}
		if err != nil {
			return nil, "", job.Params{}, apierror.Validation(
				apierror.CodeNoImage, "No image file provided", 400, nil)
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			return nil, "", job.Params{}, apierror.Validation(
				apierror.CodeNoImage, "Could not read uploaded file", 400, nil)
		}
		filename = header.Filename
		values = r.FormValue

	default:
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			return nil, "", job.Params{}, apierror.Validation(
				apierror.CodeNoImage, "No image file provided", 400, nil)
		}
		data = body
		q := r.URL.Query()
		values = func(key string) string { return q.Get(key) }
	}

	params, apiErr := parseParams(values)
	if apiErr != nil {
		return nil, "", job.Params{}, apiErr
	}
	return data, filename, params, nil
}

// urlValues reads one named parameter from a form or query source.
type urlValues func(key string) string

// parseParams builds job.Params from request parameters.
func parseParams(get urlValues) (job.Params, *apierror.Error) {
	var p job.Params

	width := atoi(get("width"))
	height := atoi(get("height"))
	if width > 0 || height > 0 {
		p.Resize = &job.Resize{
			Width:  width,
			Height: height,
			Fit:    get("fit"),
		}
	}

	if mode := get("crop"); mode != "" {
		p.Crop = &job.Crop{
			Mode:   mode,
			Width:  atoi(get("crop_width")),
			Height: atoi(get("crop_height")),
			X:      atoi(get("crop_x")),
			Y:      atoi(get("crop_y")),
		}
		if p.Crop.Width <= 0 || p.Crop.Height <= 0 {
			return p, apierror.Validation(
				apierror.CodeUnsupportedOp,
				"crop requires positive crop_width and crop_height", 400,
				map[string]any{"crop": mode})
		}
	}

	p.Format = plan.Normalize(get("format"))

	if q := get("quality"); q != "" {
		quality := atoi(q)
		if quality < 1 || quality > 100 {
			return p, apierror.Validation(
				apierror.CodeUnsupportedOp, "quality must be 1-100", 400,
				map[string]any{"quality": q})
		}
		p.Quality = quality
	}

	p.Metadata = get("metadata")

	return p, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// extractAPIKey extracts the API key from the request.
func extractAPIKey(r *http.Request) string {
	// Try Authorization header first (Bearer token)
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	// Try X-API-Key header
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	// Try query parameter
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}

// contentType maps an output format to a MIME type.
func contentType(format string) string {
	switch plan.Normalize(format) {
	case "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "avif":
		return "image/avif"
	case "bmp":
		return "image/bmp"
	case "tif":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// writeError writes the JSON error body with the taxonomy headers.
func (h *Handler) writeError(w http.ResponseWriter, apiErr *apierror.Error, requestID string) {
	if apiErr.RetryAfter > 0 {
		secs := int(apiErr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	body := apierror.Build(apiErr, requestID, h.opts.Production)
	writeJSON(w, apiErr.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
