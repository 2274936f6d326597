package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asadbukhari/weather-alert-cache/internal/models"
)

// Generator produces one region's worth of free-text alerts from structured
// per-location forecast data. The text generation itself is an external
// concern; this package only transports data to it and parses what comes back.
type Generator interface {
	Generate(ctx context.Context, region string, forecasts map[string]models.ForecastSeries) (string, error)
}

// HTTPGenerator calls an external alert-text service over HTTP.
type HTTPGenerator struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPGenerator creates a generator client for the given endpoint.
func NewHTTPGenerator(url string, timeout time.Duration) (*HTTPGenerator, error) {
	if url == "" {
		return nil, fmt.Errorf("generator URL is required")
	}
	return &HTTPGenerator{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type generateRequest struct {
	Region    string                           `json:"region"`
	Forecasts map[string]models.ForecastSeries `json:"forecasts"`
}

type generateResponse struct {
	AlertText string `json:"alert_text"`
}

// Generate posts the full location set in one request and returns the raw
// alert text. One call per region, never per location.
func (g *HTTPGenerator) Generate(ctx context.Context, region string, forecasts map[string]models.ForecastSeries) (string, error) {
	body, err := json.Marshal(generateRequest{Region: region, Forecasts: forecasts})
	if err != nil {
		return "", fmt.Errorf("encode generator request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator returned HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generator response: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("parse generator response: %w", err)
	}
	if strings.TrimSpace(gr.AlertText) == "" {
		return "", fmt.Errorf("generator returned empty alert text")
	}
	return gr.AlertText, nil
}

// ParseLocationAlerts splits generator output into one alert per location.
// Sections are introduced by "## <LOCATION>" headings; text before the first
// heading is discarded.
func ParseLocationAlerts(text string) map[string]string {
	alerts := make(map[string]string)

	var current string
	var buf []string
	flush := func() {
		if current == "" {
			return
		}
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if body != "" {
			alerts[current] = body
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if heading, ok := strings.CutPrefix(strings.TrimSpace(line), "## "); ok {
			flush()
			current = strings.TrimSpace(heading)
			buf = buf[:0]
			continue
		}
		buf = append(buf, line)
	}
	flush()

	return alerts
}
