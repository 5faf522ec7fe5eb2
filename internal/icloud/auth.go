package icloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// AuthState reports what further input sign-in needs.
type AuthState int

const (
	// AuthOK means the session is fully authenticated.
	AuthOK AuthState = iota
	// AuthNeeds2FA means a trusted-device or SMS code is required.
	AuthNeeds2FA
	// AuthNeeds2SA means legacy two-step verification is required.
	AuthNeeds2SA
)

// Authenticate signs in, reusing the stored session when it still
// validates. The password is requested lazily through passwordFn only
// when a fresh sign-in is needed, so keychain or interactive prompts
// are skipped on warm starts.
func (c *Client) Authenticate(ctx context.Context, passwordFn func() (string, error)) (AuthState, error) {
	if c.session.SessionToken != "" {
		if err := c.validateToken(ctx); err == nil {
			c.logger.Debug("session token is still valid")

			return c.postLoginState(), nil
		} else if errors.Is(err, ErrServiceUnavailable) {
			return AuthOK, err
		} else {
			c.logger.Debug("session token invalid, signing in from scratch",
				slog.String("error", err.Error()))
		}
	}

	password, err := passwordFn()
	if err != nil {
		return AuthOK, fmt.Errorf("icloud: obtaining password: %w", err)
	}

	if password == "" {
		return AuthOK, &ServiceError{Reason: "password not provided", Err: ErrAuthFailed}
	}

	if err := c.srpAuthenticate(ctx, password); err != nil {
		return AuthOK, err
	}

	if err := c.accountLogin(ctx); err != nil {
		return AuthOK, err
	}

	c.logger.Info("authentication completed", slog.String("username", c.username))

	return c.postLoginState(), nil
}

// postLoginState inspects the account-login payload for pending
// second-factor requirements.
func (c *Client) postLoginState() AuthState {
	if c.requires2FA() {
		return AuthNeeds2FA
	}

	if c.requires2SA() {
		return AuthNeeds2SA
	}

	return AuthOK
}

func (c *Client) dsInfo() map[string]any {
	info, _ := c.data["dsInfo"].(map[string]any)
	return info
}

func (c *Client) requires2FA() bool {
	info := c.dsInfo()
	if info == nil {
		return false
	}

	hsaVersion, _ := info["hsaVersion"].(float64)
	qualifying, _ := info["hasICloudQualifyingDevice"].(bool)
	challenge, _ := c.data["hsaChallengeRequired"].(bool)
	trusted, _ := c.data["hsaTrustedBrowser"].(bool)

	return hsaVersion == 2 && (challenge || !trusted) && qualifying
}

func (c *Client) requires2SA() bool {
	info := c.dsInfo()
	if info == nil {
		return false
	}

	hsaVersion, _ := info["hsaVersion"].(float64)
	challenge, _ := c.data["hsaChallengeRequired"].(bool)
	trusted, _ := c.data["hsaTrustedBrowser"].(bool)

	return hsaVersion >= 1 && (challenge || !trusted)
}

// validateToken checks the stored session token against the setup
// service and adopts the account payload when it is still good.
func (c *Client) validateToken(ctx context.Context) error {
	_, body, err := c.postJSON(ctx, c.setupURL("/validate"), nil, "null", nil)
	if err != nil {
		return err
	}

	return c.adoptAccountData(body)
}

// srpAuthenticate performs the SRP-6a password proof against the auth
// service. A 409 completion status means a second factor comes next; a
// 412 asks for an account repair acknowledgement first.
func (c *Client) srpAuthenticate(ctx context.Context, password string) error {
	srp, err := newSRPSession()
	if err != nil {
		return err
	}

	initBody := map[string]any{
		"a":           base64.StdEncoding.EncodeToString(srp.publicKey()),
		"accountName": c.username,
		"protocols":   []string{"s2k", "s2k_fo"},
	}

	headers := c.authHeaders()
	headers.Set("Origin", authRootURL(c.domain))
	headers.Set("Referer", authRootURL(c.domain)+"/")

	status, body, err := c.postJSON(ctx, c.authURL("/signin/init"), nil, initBody, headers)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrBadRequest) {
			return &ServiceError{StatusCode: status, Reason: "invalid email/password combination", Err: ErrAuthFailed}
		}

		return err
	}

	var challenge struct {
		Salt      string `json:"salt"`
		B         string `json:"b"`
		C         string `json:"c"`
		Iteration int    `json:"iteration"`
		Protocol  string `json:"protocol"`
	}

	if err := json.Unmarshal(body, &challenge); err != nil {
		return fmt.Errorf("icloud: decoding SRP challenge: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(challenge.Salt)
	if err != nil {
		return fmt.Errorf("icloud: decoding SRP salt: %w", err)
	}

	serverB, err := base64.StdEncoding.DecodeString(challenge.B)
	if err != nil {
		return fmt.Errorf("icloud: decoding SRP ephemeral: %w", err)
	}

	passwordKey, err := derivePasswordKey(challenge.Protocol, password, salt, challenge.Iteration)
	if err != nil {
		return err
	}

	proof, err := srp.processChallenge(c.username, passwordKey, salt, serverB)
	if err != nil {
		return err
	}

	completeBody := map[string]any{
		"accountName": c.username,
		"c":           challenge.C,
		"m1":          base64.StdEncoding.EncodeToString(proof.M1),
		"m2":          base64.StdEncoding.EncodeToString(proof.M2),
		"rememberMe":  true,
		"trustTokens": []string{},
	}

	if c.session.TrustToken != "" {
		completeBody["trustTokens"] = []string{c.session.TrustToken}
	}

	params := url.Values{"isRememberMeEnabled": {"true"}}

	status, _, err = c.postJSON(ctx, c.authURL("/signin/complete"), params, completeBody, headers,
		http.StatusConflict, http.StatusPreconditionFailed)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrAuthFailed) {
			return &ServiceError{StatusCode: status, Reason: "invalid email/password combination", Err: ErrAuthFailed}
		}

		return err
	}

	// Accounts without a second factor answer 412 and want the repair
	// flow acknowledged before the session token is issued.
	if status == http.StatusPreconditionFailed {
		if _, _, err := c.postJSON(ctx, c.authURL("/repair/complete"), nil, map[string]any{}, c.authHeaders()); err != nil {
			return err
		}
	}

	return nil
}

// accountLogin exchanges the session token for the account payload and
// webservice catalog.
func (c *Client) accountLogin(ctx context.Context) error {
	loginBody := map[string]any{
		"accountCountryCode": c.session.AccountCountry,
		"dsWebAuthToken":     c.session.SessionToken,
		"extended_login":     true,
		"trustToken":         c.session.TrustToken,
	}

	_, body, err := c.postJSON(ctx, c.setupURL("/accountLogin"), nil, loginBody, nil)
	if err != nil {
		return err
	}

	return c.adoptAccountData(body)
}

// adoptAccountData stores the account payload and resolves the dsid
// and webservice catalog from it.
func (c *Client) adoptAccountData(body []byte) error {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("icloud: decoding account payload: %w", err)
	}

	if domainToUse, ok := data["domainToUse"].(string); ok && domainToUse != "" {
		return &ServiceError{
			Reason: fmt.Sprintf("the service insists on using %s; set the matching domain option", domainToUse),
			Err:    ErrAuthFailed,
		}
	}

	c.data = data

	if info := c.dsInfo(); info != nil {
		switch v := info["dsid"].(type) {
		case string:
			c.dsid = v
		case float64:
			c.dsid = fmt.Sprintf("%.0f", v)
		}
	}

	if raw, ok := data["webservices"].(map[string]any); ok {
		c.webservices = make(map[string]webservice, len(raw))

		for name, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}

			ws := webservice{}
			if u, ok := m["url"].(string); ok {
				ws.URL = u
			}

			if s, ok := m["status"].(string); ok {
				ws.Status = s
			}

			c.webservices[name] = ws
		}
	}

	return nil
}

// webserviceURL returns the catalog URL for a webservice key.
func (c *Client) webserviceURL(key string) (string, error) {
	ws, ok := c.webservices[key]
	if !ok || ws.URL == "" {
		return "", &ServiceError{Code: key, Reason: "webservice not available", Err: ErrNotActivated}
	}

	if c.endpointOverride != "" {
		parsed, err := url.Parse(ws.URL)
		if err != nil {
			return "", fmt.Errorf("icloud: parsing webservice URL: %w", err)
		}

		return c.endpointOverride + parsed.Path, nil
	}

	return ws.URL, nil
}

func authRootURL(domain string) string {
	if domain == "cn" {
		return "https://idmsa.apple.com.cn"
	}

	return "https://idmsa.apple.com"
}

// ValidateCode2FA verifies a trusted-device code. A rejected code
// returns (false, nil); other failures return an error. On acceptance
// the session is trusted and the account payload refreshed.
func (c *Client) ValidateCode2FA(ctx context.Context, code string) (bool, error) {
	headers := c.authHeaders()
	headers.Set("Accept", "application/json")

	reqBody := map[string]any{"securityCode": map[string]string{"code": code}}

	_, _, err := c.postJSON(ctx, c.authURL("/verify/trusteddevice/securitycode"), nil, reqBody, headers)
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) && svcErr.Code == "-21669" {
			c.logger.Error("code verification failed")

			return false, nil
		}

		return false, err
	}

	c.logger.Debug("code verification successful")

	if err := c.TrustSession(ctx); err != nil {
		return false, err
	}

	return !c.requires2SA(), nil
}

// TrustSession asks the auth service to trust this client so later
// runs skip the second factor, then refreshes the account payload.
func (c *Client) TrustSession(ctx context.Context) error {
	if _, _, err := c.request(ctx, http.MethodGet, c.authURL("/2sv/trust"), nil, nil, c.authHeaders()); err != nil {
		return err
	}

	return c.accountLogin(ctx)
}

// TrustedDevice is one legacy two-step verification target.
type TrustedDevice struct {
	DeviceID    any    `json:"deviceId,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`

	raw map[string]any
}

// Label renders a human-readable prompt entry for the device.
func (d TrustedDevice) Label() string {
	if d.DeviceName != "" {
		return d.DeviceName
	}

	return "SMS to " + d.PhoneNumber
}

// TrustedDevices lists the account's legacy two-step targets.
func (c *Client) TrustedDevices(ctx context.Context) ([]TrustedDevice, error) {
	_, body, err := c.request(ctx, http.MethodGet, c.setupURL("/listDevices"), c.queryParams(), nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Devices []map[string]any `json:"devices"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("icloud: decoding device list: %w", err)
	}

	devices := make([]TrustedDevice, 0, len(parsed.Devices))

	for _, raw := range parsed.Devices {
		d := TrustedDevice{raw: raw}
		d.DeviceID = raw["deviceId"]

		if v, ok := raw["deviceName"].(string); ok {
			d.DeviceName = v
		}

		if v, ok := raw["phoneNumber"].(string); ok {
			d.PhoneNumber = v
		}

		devices = append(devices, d)
	}

	return devices, nil
}

// SendVerificationCode asks the service to send a two-step code to the
// given device.
func (c *Client) SendVerificationCode(ctx context.Context, device TrustedDevice) (bool, error) {
	_, body, err := c.postJSON(ctx, c.setupURL("/sendVerificationCode"), c.queryParams(), device.raw, nil)
	if err != nil {
		return false, err
	}

	var parsed struct {
		Success bool `json:"success"`
	}

	_ = json.Unmarshal(body, &parsed)

	return parsed.Success, nil
}

// ValidateVerificationCode verifies a two-step code for the device. A
// rejected code returns (false, nil). On acceptance the account payload
// is refreshed through accountLogin.
func (c *Client) ValidateVerificationCode(ctx context.Context, device TrustedDevice, code string) (bool, error) {
	payload := make(map[string]any, len(device.raw)+2)
	for k, v := range device.raw {
		payload[k] = v
	}

	payload["verificationCode"] = code
	payload["trustBrowser"] = true

	_, _, err := c.postJSON(ctx, c.setupURL("/validateVerificationCode"), c.queryParams(), payload, nil)
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) && svcErr.Code == "-21669" {
			return false, nil
		}

		return false, err
	}

	if err := c.accountLogin(ctx); err != nil {
		return false, err
	}

	return !c.requires2SA(), nil
}

// TrustedPhone is one SMS second-factor target.
type TrustedPhone struct {
	ID               int
	ObfuscatedNumber string
}

// TrustedPhoneNumbers lists SMS-capable phone numbers for the pending
// sign-in. The auth page embeds them in a boot_args JSON script block.
func (c *Client) TrustedPhoneNumbers(ctx context.Context) ([]TrustedPhone, error) {
	headers := c.authHeaders()
	headers.Set("Accept", "text/html")

	_, body, err := c.request(ctx, http.MethodGet, c.authURL(""), nil, nil, headers)
	if err != nil {
		return nil, err
	}

	return parseTrustedPhones(string(body)), nil
}

// parseTrustedPhones extracts trusted phone entries from the sign-in
// page's boot_args script block.
func parseTrustedPhones(page string) []TrustedPhone {
	const marker = "boot_args"

	idx := strings.Index(page, marker)
	if idx < 0 {
		return nil
	}

	start := strings.IndexByte(page[idx:], '>')
	if start < 0 {
		return nil
	}

	start += idx + 1

	end := strings.Index(page[start:], "</script>")
	if end < 0 {
		return nil
	}

	var bootArgs struct {
		Direct struct {
			TwoSV struct {
				PhoneNumberVerification struct {
					TrustedPhoneNumbers []struct {
						ID               int    `json:"id"`
						ObfuscatedNumber string `json:"obfuscatedNumber"`
					} `json:"trustedPhoneNumbers"`
				} `json:"phoneNumberVerification"`
			} `json:"twoSV"`
		} `json:"direct"`
	}

	if err := json.Unmarshal([]byte(page[start:start+end]), &bootArgs); err != nil {
		return nil
	}

	numbers := bootArgs.Direct.TwoSV.PhoneNumberVerification.TrustedPhoneNumbers
	phones := make([]TrustedPhone, 0, len(numbers))

	for _, n := range numbers {
		phones = append(phones, TrustedPhone{
			ID:               n.ID,
			ObfuscatedNumber: strings.ReplaceAll(n.ObfuscatedNumber, "•", "*"),
		})
	}

	return phones
}

// SendSMSCode asks for a verification code via SMS to the given phone.
func (c *Client) SendSMSCode(ctx context.Context, phoneID int) error {
	headers := c.authHeaders()
	headers.Set("Content-Type", "application/json; charset=utf-8")

	reqBody := map[string]any{"phoneNumber": map[string]int{"id": phoneID}, "mode": "sms"}

	_, _, err := c.request(ctx, http.MethodPut, c.authURL("/verify/phone"), nil, reqBody, headers)

	return err
}

// ValidateSMSCode verifies an SMS code. On acceptance the session is
// trusted and the account payload refreshed.
func (c *Client) ValidateSMSCode(ctx context.Context, phoneID int, code string) (bool, error) {
	headers := c.authHeaders()
	headers.Set("Content-Type", "application/json; charset=utf-8")
	headers.Set("Accept", "application/json; charset=utf-8")

	reqBody := map[string]any{
		"phoneNumber":  map[string]int{"id": phoneID},
		"securityCode": map[string]string{"code": code},
		"mode":         "sms",
	}

	_, _, err := c.postJSON(ctx, c.authURL("/verify/phone/securitycode"), nil, reqBody, headers)
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) && svcErr.Code == "-21669" {
			return false, nil
		}

		return false, err
	}

	if err := c.TrustSession(ctx); err != nil {
		return false, err
	}

	return true, nil
}

// queryParams returns the base query parameters carried on setup and
// photo requests once authenticated.
func (c *Client) queryParams() url.Values {
	params := url.Values{}
	params.Set("clientBuildNumber", "2522Project44")
	params.Set("clientMasteringNumber", "2522B2")
	params.Set("clientId", c.session.ClientID)

	if c.dsid != "" {
		params.Set("dsid", c.dsid)
	}

	return params
}
