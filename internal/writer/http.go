package writer

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
	"github.com/jmxtrans/jmxtrans-sub000/internal/retry"
)

// HashHeader carries the hex HMAC-SHA256 of the compressed body.
const HashHeader = "HashSHA256"

// HTTP posts every batch as a gzipped JSON array of MetricsDTO.
type HTTP struct {
	keyer
	url          string
	key          string
	boolAsNumber bool
	client       *http.Client
	delays       []time.Duration
	logger       *zap.SugaredLogger
}

func NewHTTP(cfg config.WriterConfig, client *http.Client, logger *zap.SugaredLogger) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: http needs a url", internalerrors.ErrInvalidWriterConfig)
	}
	return &HTTP{
		keyer:        newKeyer(cfg),
		url:          cfg.URL,
		key:          cfg.Key,
		boolAsNumber: cfg.BooleanAsNumber,
		client:       client,
		delays:       retry.DefaultDelays,
		logger:       logger,
	}, nil
}

func (h *HTTP) Start() error { return nil }

func (h *HTTP) ValidateSetup(_ query.Endpoint, q *query.Query) error { return h.validate(q) }

func countHashString(compressedBody []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(compressedBody)
	return fmt.Sprintf("%x", mac.Sum(nil))
}

func (h *HTTP) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	metrics := toMetrics(h.samples(endpoint, q, results), endpoint.Label(), h.boolAsNumber)
	if len(metrics) == 0 {
		return nil
	}
	sendingData := make([]models.MetricsDTO, 0, len(metrics))
	for _, m := range metrics {
		sendingData = append(sendingData, m.DTO())
	}

	jsonData, err := json.Marshal(sendingData)
	if err != nil {
		return fmt.Errorf("error creating json: %w", err)
	}
	var compressedData bytes.Buffer
	gzipWriter := gzip.NewWriter(&compressedData)
	if _, err := gzipWriter.Write(jsonData); err != nil {
		return fmt.Errorf("error compressing data: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("error closing gzip writer: %w", err)
	}
	body := compressedData.Bytes()
	var hash string
	if h.key != "" {
		hash = countHashString(body, h.key)
	}

	return retry.Do(ctx, h.delays, h.logger, func(ctx context.Context) error {
		return h.post(ctx, body, hash)
	})
}

func (h *HTTP) post(ctx context.Context, body []byte, hash string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return &retry.Permanent{Err: fmt.Errorf("error creating request for %s: %w", h.url, err)}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept-Encoding", "gzip")
	request.Header.Set("Content-Encoding", "gzip")
	if hash != "" {
		request.Header.Set(HashHeader, hash)
	}

	response, err := h.client.Do(request)
	if err != nil {
		return fmt.Errorf("error sending request for %s: %w", h.url, err)
	}
	respBody, err := io.ReadAll(response.Body)
	response.Body.Close()
	if err != nil {
		return &retry.Transient{Err: fmt.Errorf("error reading response body: %w", err)}
	}

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		h.logger.Debugw("metrics sent", "url", h.url, "status", response.StatusCode)
		return nil
	case response.StatusCode >= 500:
		return &retry.Transient{Err: fmt.Errorf("server returned error status %d: %s", response.StatusCode, respBody)}
	default:
		return &retry.Permanent{Err: fmt.Errorf("server returned error status %d: %s", response.StatusCode, respBody)}
	}
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
