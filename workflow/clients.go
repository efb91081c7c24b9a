package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/leilaotrack/auctions_backend/models"
)

// httpTextAnalyzer calls the external analysis service. It satisfies
// TextAnalyzer; tests inject fakes instead.
type httpTextAnalyzer struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// NewHTTPTextAnalyzer reads its endpoint and key from the environment.
func NewHTTPTextAnalyzer() (TextAnalyzer, error) {
	baseURL := strings.TrimSpace(os.Getenv("AI_ANALYZER_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("AI_ANALYZER_BASE_URL is empty")
	}
	apiKey := strings.TrimSpace(os.Getenv("AI_ANALYZER_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("AI_ANALYZER_API_KEY is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("AI_ANALYZER_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	return &httpTextAnalyzer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 60 * time.Second},
		limiter:   time.Tick(6 * time.Second),
	}, nil
}

func (c *httpTextAnalyzer) Analyze(ctx context.Context, listing *models.Listing) (string, error) {
	<-c.limiter

	payload, err := json.Marshal(map[string]string{
		"title":        listing.Title,
		"description":  listing.Description,
		"observations": listing.Observations,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("analyzer error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return parsed.Summary, nil
}

type httpVehicleLookup struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// NewHTTPVehicleLookup reads its endpoint and key from the environment.
func NewHTTPVehicleLookup() (VehicleLookup, error) {
	baseURL := strings.TrimSpace(os.Getenv("VEHICLE_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("VEHICLE_API_BASE_URL is empty")
	}
	apiKey := strings.TrimSpace(os.Getenv("VEHICLE_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("VEHICLE_API_KEY is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("VEHICLE_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	return &httpVehicleLookup{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(3 * time.Second),
	}, nil
}

func (c *httpVehicleLookup) Lookup(ctx context.Context, plateNumber string) (*VehicleInfo, error) {
	<-c.limiter

	endpoint := fmt.Sprintf("%s/v1/vehicles?plate=%s", c.baseURL, url.QueryEscape(plateNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vehicle api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info VehicleInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
