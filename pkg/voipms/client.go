package voipms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/privacy"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

// Client is the subset of the VoIP.ms REST API used for messaging.
type Client interface {
	GetSMS(ctx context.Context, req GetSMSRequest) ([]SMS, error)
	SendSMS(ctx context.Context, did, dst, message string) (int64, error)
	GetDIDsInfo(ctx context.Context) ([]DIDInfo, error)
	WithCredentials(username, password string) Client
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL           string
	Username          string
	Password          string
	Timeout           time.Duration
	RequestsPerSecond int
}

// HTTPClient talks to the VoIP.ms REST endpoint. Every request passes a
// shared rate limiter and circuit breaker.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	limiter  ratelimit.Limiter
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *logrus.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultVoipMSTimeoutSec) * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = constants.DefaultVoipMSAPIURL
	}

	var limiter ratelimit.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond, ratelimit.WithoutSlack)
	} else {
		limiter = ratelimit.NewUnlimited()
	}

	breaker := circuitbreaker.New("voipms", circuitbreaker.Config{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		IsFailure:   apperrors.IsRetryable,
	}, logger)

	return &HTTPClient{
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Password,
		client:   httpClient,
		limiter:  limiter,
		breaker:  breaker,
		logger:   logger,
	}
}

// WithCredentials returns a client that authenticates as a different account
// while sharing the rate limiter and circuit breaker.
func (c *HTTPClient) WithCredentials(username, password string) Client {
	clone := *c
	clone.username = username
	clone.password = password
	return &clone
}

// BreakerStats exposes the circuit breaker state for health reporting.
func (c *HTTPClient) BreakerStats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}

func (c *HTTPClient) GetSMS(ctx context.Context, req GetSMSRequest) ([]SMS, error) {
	params := url.Values{}
	params.Set("did", req.DID)
	params.Set("from", req.From.UTC().Format(queryDateLayout))
	params.Set("to", req.To.UTC().Format(queryDateLayout))
	params.Set("limit", strconv.Itoa(constants.GetSMSLimit))
	params.Set("timezone", "0")
	switch req.Type {
	case SMSTypeReceived:
		params.Set("type", "1")
	case SMSTypeSent:
		params.Set("type", "0")
	}

	body, status, err := c.call(ctx, MethodGetSMS, params)
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusNoSMS, StatusNoDID:
		return []SMS{}, nil
	case StatusSuccess:
	default:
		return nil, statusError(MethodGetSMS, status)
	}

	var resp getSMSResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewAPIError(MethodGetSMS, http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}

	messages := make([]SMS, 0, len(resp.SMS))
	for _, raw := range resp.SMS {
		sms, err := raw.toSMS()
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"method": MethodGetSMS,
				"did":    privacy.MaskPhoneNumber(req.DID),
				"error":  err.Error(),
			}).Warn("Skipping message with unparseable date")
			continue
		}
		messages = append(messages, sms)
	}

	c.logger.WithFields(logrus.Fields{
		"method": MethodGetSMS,
		"did":    privacy.MaskPhoneNumber(req.DID),
		"from":   req.From.Format(queryDateLayout),
		"to":     req.To.Format(queryDateLayout),
		"count":  len(messages),
	}).Debug("Retrieved messages")

	return messages, nil
}

// SendSMS sends a single message of at most 160 characters and returns the
// id the API assigned to it.
func (c *HTTPClient) SendSMS(ctx context.Context, did, dst, message string) (int64, error) {
	if message == "" {
		return 0, apperrors.NewValidationError("message", "message cannot be empty")
	}
	if n := len([]rune(message)); n > constants.MaxSMSLength {
		return 0, apperrors.NewValidationError("message",
			fmt.Sprintf("message is %d characters, the limit is %d", n, constants.MaxSMSLength))
	}

	params := url.Values{}
	params.Set("did", did)
	params.Set("dst", dst)
	params.Set("message", message)

	body, status, err := c.call(ctx, MethodSendSMS, params)
	if err != nil {
		return 0, err
	}
	if status != StatusSuccess {
		return 0, statusError(MethodSendSMS, status)
	}

	var resp sendSMSResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, apperrors.NewAPIError(MethodSendSMS, http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.SMS == 0 {
		return 0, apperrors.NewAPIError(MethodSendSMS, http.StatusOK, fmt.Errorf("response carries no message id"))
	}
	return int64(resp.SMS), nil
}

func (c *HTTPClient) GetDIDsInfo(ctx context.Context) ([]DIDInfo, error) {
	body, status, err := c.call(ctx, MethodGetDIDsInfo, url.Values{})
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusNoDID:
		return []DIDInfo{}, nil
	case StatusSuccess:
	default:
		return nil, statusError(MethodGetDIDsInfo, status)
	}

	var resp getDIDsInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewAPIError(MethodGetDIDsInfo, http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}

	dids := make([]DIDInfo, 0, len(resp.DIDs))
	for _, raw := range resp.DIDs {
		dids = append(dids, DIDInfo{
			DID:         raw.DID,
			Description: raw.Description,
			SMSEnabled:  bool(raw.SMSEnabled),
		})
	}
	return dids, nil
}

// call performs one API request and returns the body and its status field.
func (c *HTTPClient) call(ctx context.Context, method string, params url.Values) ([]byte, string, error) {
	params.Set("api_username", c.username)
	params.Set("api_password", c.password)
	params.Set("method", method)
	endpoint := c.baseURL + "?" + params.Encode()

	var (
		body   []byte
		status string
	)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		c.limiter.Take()
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"method":   method,
			"username": privacy.MaskUsername(c.username),
		}).Debug("Calling VoIP.ms API")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to create request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).WithField("method", method).Error("Failed to send VoIP.ms request")
			return apperrors.NewTransportError(method, err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.NewTransportError(method, fmt.Errorf("failed to read response body: %w", err))
		}

		if resp.StatusCode != http.StatusOK {
			c.logger.WithFields(logrus.Fields{
				"method": method,
				"status": resp.StatusCode,
			}).Error("VoIP.ms API returned error status")
			return apperrors.NewAPIError(method, resp.StatusCode,
				fmt.Errorf("voip.ms API error: status %d, body: %s", resp.StatusCode, truncate(string(body), 256)))
		}

		status, err = decodeStatus(body)
		if err != nil {
			return apperrors.NewAPIError(method, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			return nil, "", apperrors.Wrap(err, apperrors.ErrCodeVoipMSAPI, "VoIP.ms API temporarily unavailable")
		}
		return nil, "", err
	}
	return body, status, nil
}

func statusError(method, status string) error {
	switch status {
	case StatusInvalidCredentials, StatusMissingCredentials, StatusIPNotEnabled, StatusAPINotEnabled:
		return apperrors.NewAuthError(status).WithContext("method", method)
	default:
		return apperrors.NewAPIStatusError(method, status)
	}
}

// IsAuthError reports whether err means the API rejected the credentials or
// the caller's address.
func IsAuthError(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrCodeAuthentication)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
