// Package conversion drives the OCR/layout-parsing service's asynchronous
// batch workflow: submit files, poll until every file is terminal, then
// download and unpack the per-file result archives.
package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"golang.org/x/time/rate"
)

const service = "conversion"

// Config for the conversion client.
type Config struct {
	APIKey          string
	BaseURL         string // default https://mineru.net/api/v4
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	UploadTimeout   time.Duration
	DownloadTimeout time.Duration
	// MaxPollErrors is how many consecutive failed status queries Poll
	// tolerates before giving up. Zero means never give up.
	MaxPollErrors int
	Language      string
	EnableFormula bool
	EnableTable   bool
	OCR           bool
}

// ConfigFromCommon maps environment configuration onto client settings.
func ConfigFromCommon(cfg common.ConversionConfig) Config {
	return Config{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		PollInterval:    cfg.PollInterval,
		RequestTimeout:  cfg.RequestTimeout,
		UploadTimeout:   cfg.UploadTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		MaxPollErrors:   cfg.MaxPollErrors,
		Language:        cfg.Language,
		EnableFormula:   cfg.EnableFormula,
		EnableTable:     cfg.EnableTable,
		OCR:             cfg.OCR,
	}
}

// File is one document to convert. DataID links results back to it.
type File struct {
	Path   string
	DataID string
}

func (f File) Name() string { return filepath.Base(f.Path) }

// Result is the state of one submitted file as last observed.
type Result struct {
	DataID   string                    `json:"data_id"`
	FileName string                    `json:"file_name"`
	State    constants.ConversionState `json:"state"`
	ErrMsg   string                    `json:"err_msg,omitempty"`
	ZipURL   string                    `json:"full_zip_url,omitempty"`
}

type Client struct {
	cfg      Config
	api      *http.Client
	upload   *http.Client
	download *http.Client
	logger   *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://mineru.net/api/v4"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 120 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 120 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "ch"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		api:      &http.Client{Timeout: cfg.RequestTimeout},
		upload:   &http.Client{Timeout: cfg.UploadTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:   logger,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	TraceID string          `json:"trace_id"`
	Data    json.RawMessage `json:"data"`
}

type uploadIntent struct {
	Name   string `json:"name"`
	IsOCR  bool   `json:"is_ocr"`
	DataID string `json:"data_id"`
}

// Submit requests one upload location per file and then uploads every file
// in order. Any failed upload aborts the whole submission.
func (c *Client) Submit(ctx context.Context, files []File) (string, error) {
	if len(files) == 0 {
		return "", common.InvalidInputError("no files to submit")
	}
	files = append([]File(nil), files...)
	intents := make([]uploadIntent, len(files))
	for i, f := range files {
		if f.DataID == "" {
			f.DataID = DataIDFor(f.Path)
			files[i] = f
		}
		intents[i] = uploadIntent{Name: f.Name(), IsOCR: c.cfg.OCR, DataID: f.DataID}
	}
	body := map[string]any{
		"enable_formula": c.cfg.EnableFormula,
		"enable_table":   c.cfg.EnableTable,
		"language":       c.cfg.Language,
		"files":          intents,
	}

	var data struct {
		BatchID  string   `json:"batch_id"`
		FileURLs []string `json:"file_urls"`
	}
	if err := c.call(ctx, http.MethodPost, "/file-urls/batch", body, &data); err != nil {
		return "", fmt.Errorf("request upload urls: %w", err)
	}
	if data.BatchID == "" || len(data.FileURLs) != len(files) {
		return "", common.TransportErrorf(service, "expected %d upload urls for batch %q, got %d", len(files), data.BatchID, len(data.FileURLs))
	}
	c.logger.Info("conversion.submit.accepted", "batch_id", data.BatchID, "files", len(files))

	for i, f := range files {
		if err := c.put(ctx, data.FileURLs[i], f.Path); err != nil {
			c.logger.Error("conversion.upload.failed", "batch_id", data.BatchID, "file", f.Name(), "error", err)
			return "", fmt.Errorf("upload %s: %w", f.Name(), err)
		}
		c.logger.Info("conversion.upload.ok", "batch_id", data.BatchID, "file", f.Name(), "n", i+1, "of", len(files))
	}
	return data.BatchID, nil
}

func (c *Client) put(ctx context.Context, url, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, fh)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	resp, err := c.upload.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.TransportError(service, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return common.TransportErrorf(service, "upload status %d", resp.StatusCode)
	}
	return nil
}

// Status fetches the current per-file state of a batch once.
func (c *Client) Status(ctx context.Context, batchID string) ([]Result, error) {
	var data struct {
		BatchID       string   `json:"batch_id"`
		ExtractResult []Result `json:"extract_result"`
	}
	if err := c.call(ctx, http.MethodGet, "/extract-results/batch/"+batchID, nil, &data); err != nil {
		return nil, err
	}
	return data.ExtractResult, nil
}

// Poll queries the batch at a fixed interval until every file is terminal.
// It has no deadline of its own; bound it through ctx. Transient status
// failures are tolerated up to MaxPollErrors in a row.
func (c *Client) Poll(ctx context.Context, batchID string) ([]Result, error) {
	pace := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)
	failures := 0
	for round := 1; ; round++ {
		if err := pace.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("poll batch %s: %w", batchID, context.DeadlineExceeded)
		}

		results, err := c.Status(ctx, batchID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			c.logger.Warn("conversion.poll.error", "batch_id", batchID, "round", round, "consecutive", failures, "error", err)
			if c.cfg.MaxPollErrors > 0 && failures >= c.cfg.MaxPollErrors {
				return nil, fmt.Errorf("poll batch %s: %w", batchID, err)
			}
			continue
		}
		failures = 0

		counts := map[constants.ConversionState]int{}
		for _, r := range results {
			counts[r.State]++
		}
		c.logger.Info("conversion.poll.status", "batch_id", batchID, "round", round, "files", len(results), "states", counts)
		if AllTerminal(results) {
			return results, nil
		}
	}
}

// AllTerminal reports whether every result is done, failed or error. An
// empty list is not terminal because the service has not registered files yet.
func AllTerminal(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.State.Terminal() {
			return false
		}
	}
	return true
}

// call performs one authenticated API request and decodes data on code 0.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		rdr = bytes.NewReader(bs)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Request-Id", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.api.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.TransportError(service, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.TransportError(service, fmt.Errorf("read body: %w", err))
	}
	c.logger.Debug("conversion.http.response",
		"req_id", reqID,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode != http.StatusOK {
		return common.TransportErrorf(service, "%s %s: status %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return common.TransportError(service, fmt.Errorf("decode response: %w", err))
	}
	if env.Code != 0 {
		return common.TransportErrorf(service, "%s %s: code %d: %s (trace %s)", method, path, env.Code, env.Msg, env.TraceID)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return common.TransportError(service, fmt.Errorf("decode data: %w", err))
		}
	}
	return nil
}
