package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MintToken signs a short-lived HS256 token for userID with the server's
// secret. Load tests run against servers whose secret the operator holds.
// An empty issuer omits the iss claim.
func MintToken(secret, issuer string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(userID, 10),
		"email": fmt.Sprintf("loadtest+%d@example.com", userID),
		"role":  "user",
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Join makes the token's user a member of roomID through the REST API.
func Join(ctx context.Context, httpClient *http.Client, baseURL string, roomID int64, token string, anonymous bool) error {
	body := []byte(fmt.Sprintf(`{"is_anonymous":%t}`, anonymous))
	endpoint := fmt.Sprintf("%s/api/communities/%d/join", strings.TrimRight(baseURL, "/"), roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("join: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SocketURL converts an http(s) base URL to the room socket URL.
func SocketURL(baseURL string, roomID int64, token string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return fmt.Sprintf("%s/api/communities/ws/%d?token=%s", u, roomID, url.QueryEscape(token))
}
