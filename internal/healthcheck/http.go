package healthcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxBodyBytes = 1 << 20

// HTTPCheck issues a GET against the host and optionally looks for a
// substring in the response body.
//
// Params: url (path, default "/"), vhost (Host header and SNI name), match,
// use_tls, port, insecure (skip certificate verification).
type HTTPCheck struct {
	logger *slog.Logger
}

func NewHTTPCheck(logger *slog.Logger) *HTTPCheck {
	return &HTTPCheck{logger: logger}
}

func (c *HTTPCheck) Check(ctx context.Context, host string, params Params) (bool, error) {
	useTLS := params.Bool("use_tls", false)
	vhost := params.String("vhost", "")
	path := params.String("url", "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	scheme := "http"
	port := params.Int("port", 80)
	if useTLS {
		scheme = "https"
		port = params.Int("port", 443)
	}

	target := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + path

	transport := &http.Transport{
		Proxy:             nil,
		DisableKeepAlives: true,
		DialContext:       (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSClientConfig: &tls.Config{
			ServerName:         vhost,
			InsecureSkipVerify: params.Bool("insecure", false),
		},
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	if vhost != "" {
		req.Host = vhost
	}

	c.logger.Debug("HTTP check",
		slog.String("host", host),
		slog.String("url", target),
		slog.String("vhost", vhost))

	res, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %s", ErrCheckFailed, res.Status)
	}

	match, ok := params["match"]
	if !ok || match == nil {
		return true, nil
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return false, err
	}

	return strings.Contains(string(body), fmt.Sprint(match)), nil
}
