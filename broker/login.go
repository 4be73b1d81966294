package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hedgegram/auth"
	"hedgegram/config"
	"hedgegram/logs"

	"github.com/pquerna/otp/totp"
)

// LoginClient exchanges a one-time code for a brokerage session credential
// and stores the result. The login password is the SHA-256 digest of
// clientID + code + apiSecret, per the brokerage auth scheme.
type LoginClient struct {
	httpClient *http.Client
	creds      *auth.Store

	loginURL  string
	clientID  string
	apiSecret string
	totpSeed  string
}

// NewLoginClient creates a login client from environment config.
func NewLoginClient(env *config.EnvConfig, creds *auth.Store, timeout time.Duration) *LoginClient {
	return &LoginClient{
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		loginURL:   env.BrokerLoginURL,
		clientID:   env.BrokerClientID,
		apiSecret:  env.BrokerAPISecret,
		totpSeed:   env.TOTPSeed,
	}
}

// CanAutoGenerate reports whether a TOTP seed is configured, allowing an
// exchange without an operator-supplied code.
func (c *LoginClient) CanAutoGenerate() bool { return c.totpSeed != "" }

type loginRequest struct {
	UserName string `json:"UserName"`
	TOTP     string `json:"totp"`
	Password string `json:"password"`
}

type loginResponse struct {
	JWTToken  string `json:"jwtToken"`
	SessionID string `json:"sid"`
}

// Exchange performs the TOTP login. An empty code is generated from the
// configured seed when possible. On success the credential is saved to the
// store and returned; upstream rejections come back as UpstreamError so the
// control API can relay the body.
func (c *LoginClient) Exchange(ctx context.Context, code string) (auth.Credential, error) {
	if c.clientID == "" || c.apiSecret == "" {
		return auth.Credential{}, fmt.Errorf("broker credentials not configured")
	}

	if code == "" {
		if !c.CanAutoGenerate() {
			return auth.Credential{}, fmt.Errorf("totp code required: no seed configured")
		}
		generated, err := totp.GenerateCode(c.totpSeed, time.Now())
		if err != nil {
			return auth.Credential{}, fmt.Errorf("failed to generate totp code: %w", err)
		}
		code = generated
		logs.Debug("[Login] Generated TOTP code from configured seed.")
	}

	digest := sha256.Sum256([]byte(c.clientID + code + c.apiSecret))
	payload := loginRequest{
		UserName: c.clientID,
		TOTP:     code,
		Password: hex.EncodeToString(digest[:]),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("failed to marshal login payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, bytes.NewReader(data))
	if err != nil {
		return auth.Credential{}, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.Credential{}, &UpstreamError{Op: "totp login", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.Credential{}, &UpstreamError{Op: "totp login", Status: resp.StatusCode, Err: err}
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return auth.Credential{}, &UpstreamError{Op: "totp login", Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode != http.StatusOK || parsed.JWTToken == "" {
		return auth.Credential{}, &UpstreamError{Op: "totp login", Status: resp.StatusCode, Body: string(body)}
	}

	cred := auth.Credential{
		Token:     parsed.JWTToken,
		SessionID: parsed.SessionID,
		IssuedAt:  time.Now(),
	}
	if err := c.creds.Save(cred); err != nil {
		return auth.Credential{}, fmt.Errorf("login succeeded but credential save failed: %w", err)
	}
	logs.Infof("[Login] Live credential stored (sid present=%t).", cred.SessionID != "")
	return cred, nil
}
