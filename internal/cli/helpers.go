package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetforge/forge/internal/daemon"
)

// client is a thin HTTP client for a running coordinator.
type client struct {
	base string
	http *http.Client
}

// newClient builds a client from the on-disk config (or the --addr flag).
func newClient() (*client, error) {
	if flagAddr != "" {
		return &client{base: "http://" + flagAddr, http: &http.Client{Timeout: 10 * time.Second}}, nil
	}
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &client{
		base: fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port),
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *client) do(method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var flagAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Coordinator address host:port (overrides config)")
}
