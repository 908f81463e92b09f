package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	// HeaderIdempotencyKey: ключ идемпотентности запроса.
	HeaderIdempotencyKey   = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из кеша.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	defaultIdempotencyTTL   = 24 * time.Hour
	idempotencyStoreTimeout = 5 * time.Second
)

// bodyRecorder дублирует тело ответа, чтобы сохранить его под ключом.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency кеширует ответ по заголовку Idempotency-Key.
// Без заголовка запрос проходит как обычно.
func Idempotency(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || repo == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondFail(c, http.StatusBadRequest, ReasonInvalidRequest, "failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		reqLogger := logger.WithFields(log.Fields{
			"idempotency_key": key,
			"request_id":      c.GetString(ctxKeyRequestID),
		})

		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)
		record, err := repo.CreateProcessing(c.Request.Context(), key, hash, time.Now().UTC().Add(ttl))
		if err != nil {
			replayIdempotency(c, reqLogger, err, record)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		// Результат сохраняем даже если клиент уже отключился.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), idempotencyStoreTimeout)
		defer cancel()

		status := recorder.Status()
		payload := recorder.body.Bytes()
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			err = repo.MarkDone(storeCtx, key, payload, status)
		} else {
			err = repo.MarkFailed(storeCtx, key, payload, status)
		}
		if err != nil {
			reqLogger.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func replayIdempotency(c *gin.Context, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		respondError(c, createErr)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
				respondFail(c, http.StatusInternalServerError, ReasonInternal, "idempotency cache is empty")
				return
			}
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
			c.Abort()
		case domain.IdempotencyStatusProcessing:
			respondError(c, createErr)
		default:
			respondFail(c, http.StatusInternalServerError, ReasonInternal, "unknown idempotency record status")
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired),
		errors.Is(createErr, domain.ErrIdempotencyRequestHashRequired):
		respondFail(c, http.StatusBadRequest, ReasonInvalidRequest, createErr.Error())
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		respondFail(c, http.StatusInternalServerError, ReasonInternal, "failed to initialize idempotent request")
	}
}

func requestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+2+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
