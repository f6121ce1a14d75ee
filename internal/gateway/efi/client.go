package efi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/gateway"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/metrics"
)

type Config struct {
	PixURL       string
	ChargesURL   string
	ClientID     string
	ClientSecret string
	CertFile     string
	KeyFile      string
	PixKey       string
	Timeout      time.Duration
}

// Client talks to the Efí PIX and charges APIs. Each API has its own OAuth endpoint.
type Client struct {
	log     *slog.Logger
	http    *http.Client
	cfg     Config
	pix     *tokenSource
	charges *tokenSource
	tracer  trace.Tracer
}

func NewClient(log *slog.Logger, cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("efi: load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	hc := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	c := &Client{
		log:    log,
		http:   hc,
		cfg:    cfg,
		tracer: otel.Tracer("efi-client"),
	}
	c.pix = &tokenSource{http: hc, url: cfg.PixURL + "/oauth/token", id: cfg.ClientID, secret: cfg.ClientSecret}
	c.charges = &tokenSource{http: hc, url: cfg.ChargesURL + "/v1/authorize", id: cfg.ClientID, secret: cfg.ClientSecret}
	return c, nil
}

type tokenSource struct {
	http   *http.Client
	url    string
	id     string
	secret string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.expires) {
		return t.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewBufferString(`{"grant_type":"client_credentials"}`))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.id, t.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oauth status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("oauth response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("oauth response without access_token")
	}
	t.token = body.AccessToken
	// renew a minute early so a request never carries a token that expires in flight
	t.expires = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return t.token, nil
}

// do sends in as JSON and decodes a 2xx body into out. Failures come back as *gateway.Error.
func (c *Client) do(ctx context.Context, ts *tokenSource, method, url string, in, out any, op, ref string) error {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("gateway.ref", ref)))
	defer span.End()
	start := time.Now()

	status, err := c.roundTrip(ctx, ts, method, url, in, out)
	metrics.GatewayDuration.WithLabelValues(op, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		c.log.Error("gateway call failed", "op", op, "ref", ref, "status", status, "err", err)
		return &gateway.Error{Op: op, Ref: ref, StatusCode: status, Err: err}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, ts *tokenSource, method, url string, in, out any) (int, error) {
	token, err := ts.Token(ctx)
	if err != nil {
		return 0, err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, classify(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, classify(err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, gateway.ErrNotFound
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("%w: %s", gateway.ErrNetwork, truncate(raw))
	case resp.StatusCode >= 300:
		return resp.StatusCode, fmt.Errorf("rejected: %s", truncate(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("malformed response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func classify(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %v", gateway.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", gateway.ErrNetwork, err)
	}
}

func truncate(b []byte) string {
	if len(b) > 300 {
		return string(b[:300]) + "..."
	}
	return string(b)
}
