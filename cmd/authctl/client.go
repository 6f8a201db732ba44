package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/avaropoint/authcore/internal/protocol"
)

const requestTimeout = 30 * time.Second

// client is a thin JSON client for the server API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// connectionFlags are shared by every command that talks to a server.
type connectionFlags struct {
	server string
	caCert string
}

func (c *connectionFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.server, "server", "https://localhost:8443", "server base URL")
	fs.StringVar(&c.caCert, "ca-cert", "", "PEM CA to trust, for a self-signed server")
}

func (c *connectionFlags) client() (*client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.caCert != "" {
		pem, err := os.ReadFile(c.caCert)
		if err != nil {
			return nil, fmt.Errorf("reading CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: no certificates found", c.caCert)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}
	}
	return &client{
		baseURL: strings.TrimSuffix(c.server, "/"),
		http:    &http.Client{Transport: transport, Timeout: requestTimeout},
	}, nil
}

// do sends in (if non-nil) as JSON and decodes a 2xx body into out (if
// non-nil). Other statuses become errors carrying the server's message.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr protocol.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runLogin(e *env, args []string) error {
	fs := newFlagSet(e, "login")
	var conn connectionFlags
	conn.add(fs)
	username := fs.String("username", "", "account name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("--username is required")
	}

	c, err := conn.client()
	if err != nil {
		return err
	}
	password, err := readSecret(e.stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var resp protocol.LoginResponse
	if err := c.do(ctx, http.MethodPost, protocol.PathLogin, protocol.LoginRequest{
		Username: *username,
		Password: password,
	}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, resp.Token)
	fmt.Fprintf(e.stderr, "expires %s\n", resp.ExpiresAt.Local().Format(time.RFC3339))
	return nil
}

func runWhoami(e *env, args []string) error {
	fs := newFlagSet(e, "whoami")
	var conn connectionFlags
	conn.add(fs)
	token := fs.String("token", "", "bearer token (default: $AUTHCORE_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		*token = os.Getenv("AUTHCORE_TOKEN")
	}
	if *token == "" {
		return errors.New("--token or AUTHCORE_TOKEN is required")
	}

	c, err := conn.client()
	if err != nil {
		return err
	}
	c.token = strings.TrimSpace(*token)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var profile protocol.ProfileResponse
	if err := c.do(ctx, http.MethodGet, protocol.PathMe, nil, &profile); err != nil {
		return err
	}
	return printJSON(e.stdout, profile)
}

func runKeys(e *env, args []string) error {
	fs := newFlagSet(e, "keys")
	var conn connectionFlags
	conn.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := conn.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var keys protocol.KeysResponse
	if err := c.do(ctx, http.MethodGet, protocol.PathKeys, nil, &keys); err != nil {
		return err
	}
	for _, k := range keys.Keys {
		marker := " "
		if k.Fingerprint == keys.Active {
			marker = "*"
		}
		fmt.Fprintf(e.stdout, "%s %s %s %s\n", marker, k.Fingerprint, k.PublicKey, k.Label)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
