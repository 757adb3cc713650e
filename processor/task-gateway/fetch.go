package taskgateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// errImageTooLarge marks a download that exceeded the size cap.
var errImageTooLarge = errors.New("image exceeds size limit")

// imageFetcher downloads reference images from client-supplied URLs.
// The gateway dials out on behalf of untrusted callers, so every URL is
// validated against localhost, private ranges, and DNS rebinding before
// a connection is made.
type imageFetcher struct {
	client  *http.Client
	maxSize int64
}

func newImageFetcher(timeout time.Duration, maxSize int64) *imageFetcher {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Resolve and validate IPs before connecting so a hostname cannot
	// pass the URL check and then resolve to a private address.
	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}

		for _, ipAddr := range ips {
			if isPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
			}
		}

		for _, ipAddr := range ips {
			connAddr := net.JoinHostPort(ipAddr.IP.String(), port)
			conn, err := dialer.DialContext(ctx, network, connAddr)
			if err == nil {
				return conn, nil
			}
		}

		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	return &imageFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:           safeDialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				if err := validateImageURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		maxSize: maxSize,
	}
}

// Fetch downloads image bytes from the given URL.
func (f *imageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := validateImageURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	// Read one byte past the cap to distinguish at-limit from over.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("%w (%d bytes max)", errImageTooLarge, f.maxSize)
	}

	return body, nil
}

// validateImageURL rejects URLs that could reach internal services.
func validateImageURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("local domain URLs are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("private IP addresses are not allowed")
		}
	}

	return nil
}

// isPrivateIP checks loopback, RFC 1918, link-local, CGNAT, and the
// IPv6 unique-local and link-local ranges, including IPv4-mapped forms.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if v4 := ip.To4(); v4 != nil {
		ip = v4
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return true
		}
	}

	return cgnatNet.Contains(ip) || v6UniqueNet.Contains(ip) || v6LinkNet.Contains(ip)
}

var (
	cgnatNet    *net.IPNet // 100.64.0.0/10 carrier-grade NAT
	v6UniqueNet *net.IPNet // fc00::/7 unique local
	v6LinkNet   *net.IPNet // fe80::/10 link-local
)

func init() {
	for _, r := range []struct {
		cidr string
		dst  **net.IPNet
	}{
		{"100.64.0.0/10", &cgnatNet},
		{"fc00::/7", &v6UniqueNet},
		{"fe80::/10", &v6LinkNet},
	} {
		_, network, err := net.ParseCIDR(r.cidr)
		if err != nil {
			panic("invalid reserved CIDR " + r.cidr + ": " + err.Error())
		}
		*r.dst = network
	}
}
