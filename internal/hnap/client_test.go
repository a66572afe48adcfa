package hnap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"go.uber.org/zap"
)

// modemStub emulates the MB8600 HNAP endpoint. Like the real firmware it
// serves JSON bodies labeled text/html.
type modemStub struct {
	t            *testing.T
	challenge    string
	cookie       string
	publicKey    string
	password     string
	loginCalls   int
	statusCalls  int
	expireOnce   bool
	lastHnapAuth string
}

func (m *modemStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.t.Helper()

		if r.URL.Path != "/HNAP1/" {
			m.t.Errorf("unexpected path %q", r.URL.Path)
		}
		m.lastHnapAuth = r.Header.Get("Hnap_auth")

		var body map[string]map[string]string
		var rawLogin struct {
			Login loginRequest `json:"Login"`
		}
		raw := json.NewDecoder(r.Body)

		w.Header().Set("Content-Type", "text/html")

		switch r.Header.Get("Soapaction") {
		case ActionURIPrefix + "Login":
			if err := raw.Decode(&rawLogin); err != nil {
				m.t.Fatalf("decode login body: %v", err)
			}
			m.handleLogin(w, r, rawLogin.Login)
		case ActionURIPrefix + "GetMultipleHNAPs":
			if err := raw.Decode(&body); err != nil {
				m.t.Fatalf("decode status body: %v", err)
			}
			m.handleStatus(w, r)
		default:
			m.t.Errorf("unexpected Soapaction %q", r.Header.Get("Soapaction"))
		}
	})
}

func (m *modemStub) handleLogin(w http.ResponseWriter, r *http.Request, req loginRequest) {
	switch req.Action {
	case "request":
		resp := map[string]map[string]string{"LoginResponse": {
			"Challenge": m.challenge,
			"Cookie":    m.cookie,
			"PublicKey": m.publicKey,
		}}
		json.NewEncoder(w).Encode(resp)
	case "login":
		m.loginCalls++
		want := DeriveLoginPassword(DerivePrivateKey(m.publicKey, m.password, m.challenge), m.challenge)
		result := "OK"
		if req.LoginPassword != want {
			result = "FAILED"
		}
		if uid, err := r.Cookie("uid"); err != nil || uid.Value != m.cookie {
			m.t.Error("login request missing uid cookie")
		}
		if _, err := r.Cookie("PrivateKey"); err != nil {
			m.t.Error("login request missing PrivateKey cookie")
		}
		json.NewEncoder(w).Encode(map[string]map[string]string{"LoginResponse": {"LoginResult": result}})
	default:
		m.t.Errorf("unexpected login action %q", req.Action)
	}
}

func (m *modemStub) handleStatus(w http.ResponseWriter, r *http.Request) {
	m.statusCalls++
	if m.expireOnce {
		m.expireOnce = false
		json.NewEncoder(w).Encode(map[string]map[string]any{
			"GetMultipleHNAPsResponse": {"GetMultipleHNAPsResult": "UN-AUTH"},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]map[string]any{
		"GetMultipleHNAPsResponse": {
			"GetMultipleHNAPsResult": "OK",
			"GetMotoStatusStartupSequenceResponse": map[string]string{
				"MotoConnConfigurationFileComment": "cfg-v9.bin",
			},
			"GetMotoStatusConnectionInfoResponse": map[string]string{
				"MotoConnSystemUpTime": "5 days 03h:21m:09s",
			},
			"GetMotoStatusDownstreamChannelInfoResponse": map[string]string{
				"MotoConnDownstreamChannel": "1^Locked^QAM256^32^549.0^3.4^41.2^100^5^|+|2^Locked^QAM256^33^555.0^3.1^40.9^88^2^",
			},
			"GetMotoStatusUpstreamChannelInfoResponse": map[string]string{
				"MotoConnUpstreamChannel": "1^Locked^SC-QAM^1^6.4^17.3^44.5^",
			},
			"GetMotoStatusSoftwareResponse": map[string]string{
				"StatusSoftwareSfVer": "8600-19.3.18",
			},
		},
	})
}

func newStub(t *testing.T) (*modemStub, *Client) {
	t.Helper()
	stub := &modemStub{
		t:         t,
		challenge: "CHAL123",
		cookie:    "COOKIE456",
		publicKey: "PUB789",
		password:  "hunter2",
	}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "admin", stub.password, zap.NewNop())
	return stub, client
}

func TestLoginHandshake(t *testing.T) {
	stub, client := newStub(t)

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if stub.loginCalls != 1 {
		t.Errorf("login step ran %d times, want 1", stub.loginCalls)
	}

	s := client.session
	if s == nil {
		t.Fatal("no session stored after successful login")
	}
	if s.Challenge != stub.challenge || s.Cookie != stub.cookie || s.PublicKey != stub.publicKey {
		t.Errorf("session mismatch: %+v", s)
	}
	if !regexp.MustCompile(`^[0-9A-F]{32}$`).MatchString(s.PrivateKey) {
		t.Errorf("private key %q is not upper hex", s.PrivateKey)
	}
	if !regexp.MustCompile(`^[0-9A-F]{32} \d+$`).MatchString(stub.lastHnapAuth) {
		t.Errorf("Hnap_auth header %q malformed", stub.lastHnapAuth)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	stub := &modemStub{
		t:         t,
		challenge: "CHAL123",
		cookie:    "COOKIE456",
		publicKey: "PUB789",
		password:  "hunter2",
	}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "admin", "wrong", zap.NewNop())
	err := client.Login(context.Background())
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("err = %v, want ErrBadCredentials", err)
	}
}

func TestStatusRequiresLogin(t *testing.T) {
	_, client := newStub(t)

	if _, err := client.Status(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestStatus(t *testing.T) {
	_, client := newStub(t)

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.ConfigFilename != "cfg-v9.bin" {
		t.Errorf("ConfigFilename = %q", status.ConfigFilename)
	}
	if status.SystemUpTime != "5 days 03h:21m:09s" {
		t.Errorf("SystemUpTime = %q", status.SystemUpTime)
	}
	if status.SoftwareVersion != "8600-19.3.18" {
		t.Errorf("SoftwareVersion = %q", status.SoftwareVersion)
	}
	if status.DownstreamChannels == "" || status.UpstreamChannels == "" {
		t.Error("channel payloads missing")
	}
}

func TestStatusSessionExpired(t *testing.T) {
	stub, client := newStub(t)

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	stub.expireOnce = true
	if _, err := client.Status(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	// The client must be able to re-establish a session in place.
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("re-login failed: %v", err)
	}
	if _, err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status after re-login failed: %v", err)
	}
}
