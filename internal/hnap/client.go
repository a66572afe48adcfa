package hnap

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cfraser/docsink/internal/logging"
)

var (
	// ErrBadCredentials means the modem rejected the login password.
	ErrBadCredentials = errors.New("hnap: invalid username or password")
	// ErrSessionExpired means an authenticated call returned a non-OK
	// result; the session must be re-established.
	ErrSessionExpired = errors.New("hnap: session expired")
	// ErrNotAuthenticated means an authenticated call was attempted
	// before a successful Login.
	ErrNotAuthenticated = errors.New("hnap: not logged in")
)

// Session holds the secrets produced by one successful handshake. A new
// handshake replaces the whole value; it is never mutated in place.
type Session struct {
	Challenge     string
	Cookie        string
	PublicKey     string
	PrivateKey    string
	LoginPassword string
}

// Status is the flattened payload of one combined status call.
type Status struct {
	ConfigFilename     string
	SystemUpTime       string
	DownstreamChannels string
	UpstreamChannels   string
	SoftwareVersion    string
}

// Client talks to a single modem's HNAP endpoint. It is not safe for
// concurrent use; the poll loop is its sole owner.
type Client struct {
	endpoint string
	username string
	password string
	http     *http.Client
	logger   *zap.Logger
	session  *Session
}

// NewClient builds a client for the modem at baseURL. The modem serves a
// self-signed certificate, so verification is disabled, matching how the
// device is managed in practice.
func NewClient(baseURL, username, password string, logger *zap.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/HNAP1/",
		username: username,
		password: password,
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			Timeout: 55 * time.Second,
		},
		logger: logger,
	}
}

type loginRequest struct {
	Action        string `json:"Action"`
	Username      string `json:"Username"`
	LoginPassword string `json:"LoginPassword"`
	Captcha       string `json:"Captcha"`
	PrivateLogin  string `json:"PrivateLogin"`
}

type loginEnvelope struct {
	Login loginRequest `json:"Login"`
}

type loginResponse struct {
	LoginResponse struct {
		Challenge   string `json:"Challenge"`
		Cookie      string `json:"Cookie"`
		PublicKey   string `json:"PublicKey"`
		LoginResult string `json:"LoginResult"`
	} `json:"LoginResponse"`
}

type statusResponse struct {
	GetMultipleHNAPsResponse struct {
		Result          string `json:"GetMultipleHNAPsResult"`
		StartupSequence struct {
			ConfigFilename string `json:"MotoConnConfigurationFileComment"`
		} `json:"GetMotoStatusStartupSequenceResponse"`
		ConnectionInfo struct {
			SystemUpTime string `json:"MotoConnSystemUpTime"`
		} `json:"GetMotoStatusConnectionInfoResponse"`
		Downstream struct {
			Channels string `json:"MotoConnDownstreamChannel"`
		} `json:"GetMotoStatusDownstreamChannelInfoResponse"`
		Upstream struct {
			Channels string `json:"MotoConnUpstreamChannel"`
		} `json:"GetMotoStatusUpstreamChannelInfoResponse"`
		Software struct {
			Version string `json:"StatusSoftwareSfVer"`
		} `json:"GetMotoStatusSoftwareResponse"`
	} `json:"GetMultipleHNAPsResponse"`
}

// Login performs the two-step challenge/login handshake and installs a
// fresh session. Safe to call again after ErrSessionExpired.
func (c *Client) Login(ctx context.Context) error {
	const action = "Login"

	// Step one: request a challenge. No session key exists yet, so the
	// auth header is signed with the device's placeholder key.
	var challengeResp loginResponse
	err := c.post(ctx, action, nil, "", loginEnvelope{Login: loginRequest{
		Action:       "request",
		Username:     c.username,
		PrivateLogin: "LoginPassword",
	}}, &challengeResp)
	if err != nil {
		return fmt.Errorf("hnap: challenge request: %w", err)
	}

	challenge := challengeResp.LoginResponse.Challenge
	cookie := challengeResp.LoginResponse.Cookie
	publicKey := challengeResp.LoginResponse.PublicKey
	if challenge == "" || cookie == "" || publicKey == "" {
		return fmt.Errorf("hnap: incomplete challenge response: %w", ErrBadCredentials)
	}

	privateKey := DerivePrivateKey(publicKey, c.password, challenge)
	loginPassword := DeriveLoginPassword(privateKey, challenge)
	c.logger.Debug("derived session keys", logging.Action(action))

	session := &Session{
		Challenge:     challenge,
		Cookie:        cookie,
		PublicKey:     publicKey,
		PrivateKey:    privateKey,
		LoginPassword: loginPassword,
	}

	// Step two: submit the derived login password under the new session
	// cookies.
	var resp loginResponse
	err = c.post(ctx, action, session, privateKey, loginEnvelope{Login: loginRequest{
		Action:        "login",
		Username:      c.username,
		LoginPassword: loginPassword,
		PrivateLogin:  "LoginPassword",
	}}, &resp)
	if err != nil {
		return fmt.Errorf("hnap: login request: %w", err)
	}

	if resp.LoginResponse.LoginResult != "OK" {
		return fmt.Errorf("hnap: login result %q: %w", resp.LoginResponse.LoginResult, ErrBadCredentials)
	}

	c.session = session
	c.logger.Info("logged in", logging.Action(action))
	return nil
}

// Status issues the combined GetMultipleHNAPs call for the five status
// sub-resources. A non-OK combined result maps to ErrSessionExpired.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	const action = "GetMultipleHNAPs"

	if c.session == nil {
		return nil, ErrNotAuthenticated
	}

	body := map[string]map[string]string{
		action: {
			"GetMotoStatusStartupSequence":       "",
			"GetMotoStatusConnectionInfo":        "",
			"GetMotoStatusDownstreamChannelInfo": "",
			"GetMotoStatusUpstreamChannelInfo":   "",
			"GetMotoStatusSoftware":              "",
		},
	}

	var resp statusResponse
	if err := c.post(ctx, action, c.session, c.session.PrivateKey, body, &resp); err != nil {
		return nil, fmt.Errorf("hnap: status request: %w", err)
	}

	payload := resp.GetMultipleHNAPsResponse
	if payload.Result != "OK" {
		return nil, fmt.Errorf("hnap: combined status result %q: %w", payload.Result, ErrSessionExpired)
	}

	return &Status{
		ConfigFilename:     payload.StartupSequence.ConfigFilename,
		SystemUpTime:       payload.ConnectionInfo.SystemUpTime,
		DownstreamChannels: payload.Downstream.Channels,
		UpstreamChannels:   payload.Upstream.Channels,
		SoftwareVersion:    payload.Software.Version,
	}, nil
}

// post sends one HNAP action. The firmware labels its JSON responses
// text/html, so the body is always decoded as JSON regardless of the
// declared content type; do not "fix" this by checking the header.
func (c *Client) post(ctx context.Context, action string, session *Session, key string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Hnap_auth", AuthHeader(action, key))
	req.Header.Set("Soapaction", ActionURIPrefix+action)
	if session != nil {
		req.AddCookie(&http.Cookie{Name: "uid", Value: session.Cookie})
		req.AddCookie(&http.Cookie{Name: "PrivateKey", Value: session.PrivateKey})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("hnap response",
		logging.Action(action),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", data))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
