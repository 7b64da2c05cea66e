package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// TokenProvider supplies the bearer token for service requests. Token
// issuance and refresh belong to the external auth collaborator; the client
// only pulls a current value per request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// ClientConfig contains transcription service client configuration.
type ClientConfig struct {
	Endpoint       string        // transcribe endpoint URL
	EnrollEndpoint string        // voiceprint enrollment endpoint URL
	Timeout        time.Duration // per-request timeout
}

// Client is the HTTP client for the remote transcription service. Each call
// performs exactly one request; retry policy lives in the Processor.
type Client struct {
	config     ClientConfig
	tokens     TokenProvider
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Segment is one recognized-speech segment in a transcribe response.
type Segment struct {
	TranscriptID   string    `json:"transcript_id"`
	SpeakerType    string    `json:"speaker_type"`
	SpeakerName    string    `json:"speaker_name"`
	Text           string    `json:"text"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`
}

// TranscribeResponse is the structured success response from the service.
// "processed, no match" (FilteredSegments > 0, empty Segments) is still a
// successful delivery.
type TranscribeResponse struct {
	Processed        bool      `json:"processed"`
	Segments         []Segment `json:"segments"`
	FilteredSegments int       `json:"filtered_segments"`
	SessionID        string    `json:"session_id,omitempty"`
}

// EnrollResponse is the response from the voiceprint enrollment endpoint.
type EnrollResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a transcription service client.
func NewClient(config ClientConfig, tokens TokenProvider) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token provider cannot be nil")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		tokens:     tokens,
		httpClient: httpClient,
	}, nil
}

// Upload sends one delivery item to the transcribe endpoint. Any 2xx response
// is a successful delivery regardless of whether the service matched the
// speaker; any other status or transport failure is returned as an error.
func (c *Client) Upload(ctx context.Context, item *Item) (*TranscribeResponse, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	body, contentType, err := c.buildTranscribeRequest(item)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to build transcribe request: %w", err)
	}

	respBody, err := c.doRequest(ctx, c.config.Endpoint, contentType, body)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	var resp TranscribeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to parse transcribe response: %w", err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return &resp, nil
}

// Enroll uploads an enrollment recording (WAV) to the enrollment endpoint.
func (c *Client) Enroll(ctx context.Context, wav []byte) (*EnrollResponse, error) {
	if c.config.EnrollEndpoint == "" {
		return nil, fmt.Errorf("enroll endpoint not configured")
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fileWriter, err := writer.CreateFormFile("audio", "enrollment.wav")
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	respBody, err := c.doRequest(ctx, c.config.EnrollEndpoint, writer.FormDataContentType(), &buf)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	var resp EnrollResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("failed to parse enroll response: %w", err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return &resp, nil
}

// buildTranscribeRequest creates the multipart/form-data body for one item:
// the WAV file under "audio", window boundaries as RFC3339 timestamps, and
// the optional coordinate pair.
func (c *Client) buildTranscribeRequest(item *Item) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := fmt.Sprintf("window_%d.wav", item.WindowStart.UnixMilli())
	fileWriter, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(item.Payload); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"timestamp_start": item.WindowStart.UTC().Format(time.RFC3339),
		"timestamp_end":   item.WindowEnd.UTC().Format(time.RFC3339),
	}
	if item.Location != nil {
		fields["latitude"] = strconv.FormatFloat(item.Location.Latitude, 'f', -1, 64)
		fields["longitude"] = strconv.FormatFloat(item.Location.Longitude, 'f', -1, 64)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// doRequest performs a single authenticated POST and returns the body of a
// 2xx response.
func (c *Client) doRequest(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain auth token: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}
