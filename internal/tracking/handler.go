package tracking

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/tinymail/internal/metrics"
	"github.com/ignite/tinymail/internal/pkg/logger"
	"github.com/ignite/tinymail/internal/token"
)

// callbackTimeout bounds the store work behind one callback.
const callbackTimeout = 5 * time.Second

// pixelPNG is a 1x1 fully transparent PNG.
var pixelPNG = func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

const unsubscribedPage = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
	<h1>You have been unsubscribed</h1>
	<p>You will no longer receive emails from us.</p>
</body></html>`

// Callbacks applies a tracking hit to stored state. *Resolver satisfies it.
type Callbacks interface {
	OnPixelHit(ctx context.Context, tok string) error
	OnUnsubscribe(ctx context.Context, tok string) error
}

// Handler serves the public pixel and unsubscribe endpoints linked from
// sent mail.
type Handler struct {
	cb Callbacks
}

// NewHandler creates a handler that reports hits to cb.
func NewHandler(cb Callbacks) *Handler {
	return &Handler{cb: cb}
}

// Routes is mounted under /api. Both endpoints answer identically for
// valid and invalid tokens.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/webhooks/pixel/{token}", h.HandlePixel)
	r.Get("/webhooks/unsubscribe/{token}", h.HandleUnsubscribe)
	return r
}

// HandlePixel records an open and always answers with the 1x1 image.
func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), callbackTimeout)
	defer cancel()

	err := h.cb.OnPixelHit(ctx, chi.URLParam(r, "token"))
	metrics.TrackingCallbacks.WithLabelValues("pixel", resultLabel(err)).Inc()
	logger.Debug("tracking: pixel hit", "ip", realIP(r), "user_agent", r.UserAgent())
	servePixel(w)
}

// HandleUnsubscribe always answers with the confirmation page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), callbackTimeout)
	defer cancel()

	err := h.cb.OnUnsubscribe(ctx, chi.URLParam(r, "token"))
	metrics.TrackingCallbacks.WithLabelValues("unsubscribe", resultLabel(err)).Inc()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(unsubscribedPage))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, token.ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelPNG)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
