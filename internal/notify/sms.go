package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-booking/pkg/logging"
)

var smsTracer = otel.Tracer("clinic.internal.notify.sms")

// SMSConfig is passed in explicitly; the client never reads the environment.
type SMSConfig struct {
	APIURL   string
	APIToken string
	SenderID string
	Timeout  time.Duration
}

// Message is one outbound SMS.
type Message struct {
	To   string
	Body string
	Kind string
}

// SMSClient posts messages to an HTTP SMS gateway. With no API URL configured
// it only logs, which is what local and test environments run with.
type SMSClient struct {
	cfg        SMSConfig
	httpClient *http.Client
	logger     *logging.Logger
}

func NewSMSClient(cfg SMSConfig, logger *logging.Logger) *SMSClient {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMSClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type smsRequest struct {
	Recipient string `json:"recipient"`
	SenderID  string `json:"sender_id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

func (c *SMSClient) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("notify: recipient required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("notify: body required")
	}
	if c.cfg.APIURL == "" {
		c.logger.Info("sms gateway not configured, message logged only", "to", msg.To, "kind", msg.Kind)
		return nil
	}

	ctx, span := smsTracer.Start(ctx, "notify.sms.send")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.sms.kind", msg.Kind))

	body, err := json.Marshal(smsRequest{
		Recipient: msg.To,
		SenderID:  c.cfg.SenderID,
		Type:      "plain",
		Message:   msg.Body,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send sms: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	c.logger.Info("sms sent", "to", msg.To, "kind", msg.Kind)
	return nil
}
