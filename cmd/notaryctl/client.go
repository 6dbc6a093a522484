package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client is an HTTP client for the notary administration session API.
type Client struct {
	addr string
	http *http.Client
}

// newClient creates a Client from the current config.
func newClient() *Client {
	addr := cfg.Address
	if v := os.Getenv("NOTARY_ADDR"); v != "" {
		addr = v
	}
	caCert := cfg.TLSCACert
	if v := os.Getenv("NOTARY_CACERT"); v != "" {
		caCert = v
	}

	tlsCfg := &tls.Config{}
	if caCert != "" {
		data, err := os.ReadFile(caCert)
		if err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		// Redirects are answers, not instructions, for an API client.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{addr: addr, http: httpClient}
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.addr+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cfg.CSRFToken != "" && method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", cfg.CSRFToken)
	}
	for name, value := range cfg.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.keepCookies(resp)
	return resp, nil
}

// keepCookies stores the cookies the server set or expired.
func (c *Client) keepCookies(resp *http.Response) {
	changed := false
	for _, ck := range resp.Cookies() {
		changed = true
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(cfg.Cookies, ck.Name)
			continue
		}
		cfg.Cookies[ck.Name] = ck.Value
	}
	if changed {
		if err := saveConfig(); err != nil {
			printError(fmt.Sprintf("saving session: %v", err))
		}
	}
}

func (c *Client) get(path string) (map[string]any, error) {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	resp, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// refreshCSRF fetches the login form to obtain the session's CSRF token.
func (c *Client) refreshCSRF() error {
	result, err := c.get("/login")
	if err != nil {
		return err
	}
	return c.keepCSRF(result)
}

// keepCSRF stores a csrf_token returned by the server.
func (c *Client) keepCSRF(result map[string]any) error {
	tok, ok := result["csrf_token"].(string)
	if !ok || tok == "" {
		return nil
	}
	cfg.CSRFToken = tok
	return saveConfig()
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		if msg, ok := result["message"].(string); ok && msg != "" {
			if code, ok := result["error_code"].(string); ok {
				return nil, fmt.Errorf("%s (%s)", msg, code)
			}
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}
