package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	// HeaderIdempotencyKey lets a client retry a mutation safely.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplayed marks a response served from the idempotency store.
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	ctxUserID     = "kanban.user"
	ctxIdentity   = "kanban.identity"
	ctxMetrics    = "kanban.metrics"
	ctxErrorStage = "kanban.error_stage"

	anonymousUser = "anonymous"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid gzip body"})
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.body.Close())
}

// requireAuth resolves the caller before the handler runs. A nil
// authenticator leaves the board open, as the board has no accounts of its own.
func requireAuth(auth Authenticator, allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth == nil {
				c.Set(ctxUserID, anonymousUser)
				c.Set(ctxIdentity, Identity{ID: anonymousUser, Anonymous: true})
				return next(c)
			}
			ident, err := resolveIdentity(auth, authHeader(c.Request(), allowQuery))
			if err != nil {
				c.Set(ctxErrorStage, "auth")
				return c.JSON(http.StatusUnauthorized, messageResponse{Message: err.Error()})
			}
			c.Set(ctxUserID, ident.ID)
			c.Set(ctxIdentity, ident)
			return next(c)
		}
	}
}

func resolveIdentity(auth Authenticator, header string) (Identity, error) {
	if ia, ok := auth.(IdentityAuthenticator); ok {
		return ia.IdentityFromAuthHeader(header)
	}
	id, err := auth.UserIDFromAuthHeader(header)
	return Identity{ID: id}, err
}

func identity(c echo.Context) Identity {
	if id, ok := c.Get(ctxIdentity).(Identity); ok {
		return id
	}
	return Identity{ID: userID(c), Anonymous: userID(c) == anonymousUser}
}

func userID(c echo.Context) string {
	if id, ok := c.Get(ctxUserID).(string); ok && id != "" {
		return id
	}
	return anonymousUser
}

// observe records a span and an observability event per request.
func observe(logger *log.Logger, boardID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			metrics, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(ctxMetrics, metrics)
			metrics.SetBoardID(boardID)
			metrics.SetIdempotencyKey(req.Header.Get(HeaderIdempotencyKey) != "")
			defer func() {
				status := c.Response().Status
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
				if stage, ok := c.Get(ctxErrorStage).(string); ok {
					metrics.SetErrorStage(stage)
				}
				metrics.Log(status, err)
			}()
			return next(c)
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetrics).(*requestMetrics)
	return m
}

// idempotent executes a request carrying an Idempotency-Key at most once per
// key and replays the stored 2xx response to repeats. Requests without a key,
// or when no deduper is configured, pass straight through.
func idempotent(d Deduper, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if d == nil || key == "" {
				return next(c)
			}
			ctx := context.WithoutCancel(c.Request().Context())
			scope := userID(c)
			fields := log.Fields{"user": scope, "idempotency_key": key}

			stored, started, err := d.Begin(ctx, scope, key)
			if err != nil {
				logger.WithFields(fields).WithError(err).Warn("idempotency lookup failed; executing request")
				return next(c)
			}
			if stored != nil {
				if m := metricsFrom(c); m != nil {
					m.SetReplayed(true)
				}
				c.Response().Header().Set(HeaderIdempotentReplayed, "true")
				return c.Blob(stored.Status, stored.ContentType, []byte(stored.Body))
			}
			if !started {
				c.Set(ctxErrorStage, "idempotency_in_flight")
				return c.JSON(http.StatusConflict, messageResponse{Message: "a request with this idempotency key is in progress"})
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec
			err = next(c)
			status := c.Response().Status
			if err == nil && status >= 200 && status < 300 {
				resp := StoredResponse{
					Status:      status,
					ContentType: c.Response().Header().Get(echo.HeaderContentType),
					Body:        rec.buf.String(),
				}
				if cerr := d.Complete(ctx, scope, key, resp); cerr != nil {
					logger.WithFields(fields).WithError(cerr).Warn("store idempotent response")
				}
				return nil
			}
			if aerr := d.Abort(ctx, scope, key); aerr != nil {
				logger.WithFields(fields).WithError(aerr).Warn("release idempotency key")
			}
			return err
		}
	}
}

type bodyRecorder struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (r *bodyRecorder) Write(p []byte) (int, error) {
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}
