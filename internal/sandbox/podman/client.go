package podman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// All requests are pinned to one compat API version so responses keep
// the shapes the runtime decodes.
const apiVersion = "v4.0.0"

const userAgent = "coderoom"

// client is a thin HTTP wrapper around one Podman endpoint. Timeouts are
// left to the per-request context so long-running waits are not cut off
// by the transport.
type client struct {
	address string
	baseURL *url.URL
	http    *http.Client
}

func newClient(address string) (*client, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return nil, errors.New("podman address is required")
	}
	var baseURL *url.URL
	var transport *http.Transport
	switch {
	case strings.HasPrefix(addr, "unix://"):
		socket := strings.TrimPrefix(addr, "unix://")
		if socket == "" {
			return nil, errors.New("podman unix socket path is required")
		}
		baseURL, transport = unixTransport(socket)
	default:
		var err error
		baseURL, transport, err = tcpTransport(addr)
		if err != nil {
			return nil, err
		}
	}
	return &client{
		address: addr,
		baseURL: baseURL,
		http:    &http.Client{Transport: transport},
	}, nil
}

func unixTransport(socket string) (*url.URL, *http.Transport) {
	transport := &http.Transport{
		DisableCompression: true,
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", socket)
		},
	}
	// Host is a placeholder; the dialer ignores it.
	baseURL, _ := url.Parse("http://unix")
	return baseURL, transport
}

func tcpTransport(addr string) (*url.URL, *http.Transport, error) {
	if strings.HasPrefix(addr, "tcp://") {
		addr = "http://" + strings.TrimPrefix(addr, "tcp://")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	baseURL, err := url.Parse(addr)
	if err != nil {
		return nil, nil, err
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return baseURL, transport, nil
}

func (c *client) ping(ctx context.Context) error {
	res, err := c.do(ctx, http.MethodGet, "/libpod/info", nil, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return readAPIError(res)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if c == nil || c.http == nil || c.baseURL == nil {
		return nil, errors.New("podman client not initialized")
	}
	reqURL := *c.baseURL
	reqURL.Path = path.Join("/", apiVersion, strings.TrimPrefix(endpoint, "/"))
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

func readAPIError(res *http.Response) error {
	if res == nil {
		return errors.New("podman API error")
	}
	body, _ := io.ReadAll(res.Body)
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("podman API error: %s", msg)
	}
	return fmt.Errorf("podman API error: %s", res.Status)
}

// candidateAddresses lists the sockets to try, configured address first,
// then the rootless user socket, then the system socket.
func candidateAddresses(primary string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	add(primary)

	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir != "" {
		add("unix://" + path.Join(runtimeDir, "podman", "podman.sock"))
	}
	if userRunDir := fmt.Sprintf("/run/user/%d", os.Getuid()); userRunDir != runtimeDir {
		add("unix://" + path.Join(userRunDir, "podman", "podman.sock"))
	}
	add("unix:///run/podman/podman.sock")
	return out
}

// escapeImagePath escapes an image reference for use in a URL path while
// keeping slashes, which Podman expects literal in image endpoints.
func escapeImagePath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.ReplaceAll(url.PathEscape(value), "%2F", "/")
}
