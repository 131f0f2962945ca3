// Package auth builds authenticated HTTP clients for the Calendar API.
//
// calendupe runs headless, so only service account keys and Application
// Default Credentials are supported.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// CredentialType represents the type of authentication credentials
type CredentialType int

const (
	CredentialTypeUnknown CredentialType = iota
	CredentialTypeOAuthClient
	CredentialTypeServiceAccount
)

// DetectCredentialType examines the JSON structure to determine credential type
func DetectCredentialType(data []byte) (CredentialType, error) {
	var check map[string]interface{}
	if err := json.Unmarshal(data, &check); err != nil {
		return CredentialTypeUnknown, fmt.Errorf("failed to parse credential file: %w", err)
	}

	// Service account has "type": "service_account"
	if typ, ok := check["type"].(string); ok && typ == "service_account" {
		return CredentialTypeServiceAccount, nil
	}

	// OAuth client has "installed" or "web" key
	if _, ok := check["installed"]; ok {
		return CredentialTypeOAuthClient, nil
	}
	if _, ok := check["web"]; ok {
		return CredentialTypeOAuthClient, nil
	}

	return CredentialTypeUnknown, fmt.Errorf("unknown credential type")
}

func (t CredentialType) String() string {
	switch t {
	case CredentialTypeOAuthClient:
		return "OAuth Client"
	case CredentialTypeServiceAccount:
		return "Service Account"
	default:
		return "Unknown"
	}
}

// NewHTTPClient creates an authenticated HTTP client for the given scopes,
// defaulting to the calendar events scope. An empty key path selects
// Application Default Credentials, which covers the attached service
// account when running on GCP.
func NewHTTPClient(ctx context.Context, serviceAccountPath string, scopes ...string) (*http.Client, error) {
	if len(scopes) == 0 {
		scopes = []string{calendar.CalendarEventsScope}
	}

	if serviceAccountPath == "" {
		client, err := google.DefaultClient(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to build default credentials client: %w", err)
		}
		return client, nil
	}

	data, err := os.ReadFile(serviceAccountPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account key: %w", err)
	}

	// Verify this is a service account credential
	credType, err := DetectCredentialType(data)
	if err != nil {
		return nil, err
	}
	if credType != CredentialTypeServiceAccount {
		return nil, fmt.Errorf("expected service account credentials, got %s", credType)
	}

	config, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account key: %w", err)
	}

	// Service accounts don't need token refresh - they generate tokens on demand
	return config.Client(ctx), nil
}
