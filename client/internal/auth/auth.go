package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

const unknownUserID = "unknown"

var ErrNoToken = errors.New("no authentication token received")

// HTTPClient http client interface for the account API calls
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Session is the outcome of a login or a registration
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// APIError is returned when the relay rejects an account request
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client calls the relay account endpoints
type Client struct {
	baseURL    string
	httpClient HTTPClient
}

func NewClient(baseURL string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpTransport := http.DefaultTransport.(*http.Transport).Clone()
		httpTransport.MaxIdleConns = 5
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: httpTransport,
		}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Login exchanges the credentials for a session token
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	payload := map[string]string{"email": email, "password": password}
	session, err := c.requestSession(ctx, "/auth/login", payload, "Login failed")
	if err != nil {
		return nil, err
	}
	completeUser(session, User{Email: email})
	return session, nil
}

// Register creates an account and returns its first session
func (c *Client) Register(ctx context.Context, email, username, password string) (*Session, error) {
	payload := map[string]string{"email": email, "username": username, "password": password}
	session, err := c.requestSession(ctx, "/auth/register", payload, "Registration failed")
	if err != nil {
		return nil, err
	}
	completeUser(session, User{Email: email, Username: username})
	return session, nil
}

// Logout tells the relay the session ends. Tokens are stateless, the caller drops it either way.
func (c *Client) Logout(ctx context.Context, token string) error {
	req, err := c.newRequest(ctx, "/auth/logout", struct{}{})
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body, "Logout failed")
	}
	return nil
}

func (c *Client) requestSession(ctx context.Context, path string, payload any, failure string) (*Session, error) {
	req, err := c.newRequest(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, apiError(status, body, failure)
	}

	session := &Session{}
	if err := json.Unmarshal(body, session); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	if session.Token == "" {
		return nil, ErrNoToken
	}
	return session, nil
}

func (c *Client) newRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("parsing payload failed with error: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("creating request failed with error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("doing request failed with error: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading body failed with error: %v", err)
	}
	return body, res.StatusCode, nil
}

func apiError(status int, body []byte, fallback string) error {
	var errResp struct {
		Message string `json:"message"`
	}
	msg := fallback
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		msg = errResp.Message
	}
	return &APIError{StatusCode: status, Message: msg}
}

// completeUser fills a missing user from the token claims. The token is not verified, only the relay can do that.
func completeUser(session *Session, fallback User) {
	if session.User != nil {
		return
	}

	user := fallback
	user.ID = unknownUserID

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(session.Token, claims); err != nil {
		log.Debugf("could not extract user info from token: %s", err)
		session.User = &user
		return
	}

	if v := stringClaim(claims, "sub", "id"); v != "" {
		user.ID = v
	}
	if v := stringClaim(claims, "email"); v != "" {
		user.Email = v
	}
	if v := stringClaim(claims, "username"); v != "" {
		user.Username = v
	}
	session.User = &user
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
