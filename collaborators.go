package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	lookups "github.com/twilio/twilio-go/rest/lookups/v1"
)

var httpClientWithTimeout = &http.Client{Timeout: 15 * time.Second}

// CarrierLookup determines whether a phone number is a landline.
type CarrierLookup interface {
	IsLandline(ctx context.Context, phoneNumber string) (bool, error)
}

// Profile is the customer record tied to a phone number.
type Profile struct {
	PhoneNumber  string `json:"phoneNumber"`
	IsLoggedIn   bool   `json:"isLoggedIn"`
	HasConsented bool   `json:"hasConsented"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

// Backend is the customer backend the assistant calls out to: profile
// lookups, login, outbound messaging and the sensor-replacement workflow.
type Backend interface {
	LookupProfile(ctx context.Context, phoneNumber string) (*Profile, error)
	Login(ctx context.Context, phoneNumber, email, password string) error
	SendMessage(ctx context.Context, phoneNumber string) error
	RequestReplacementInfo(ctx context.Context, phoneNumber string) error
}

// PromptStore fetches long-form instruction scripts by document id.
type PromptStore interface {
	Fetch(ctx context.Context, docID string) (string, error)
}

// twilioCarrierLookup answers carrier-type queries via the Twilio Lookup API.
type twilioCarrierLookup struct {
	client *twilio.RestClient
}

// NewTwilioCarrierLookup builds a carrier lookup backed by Twilio.
func NewTwilioCarrierLookup(accountSID, authToken string) CarrierLookup {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &twilioCarrierLookup{client: client}
}

func (l *twilioCarrierLookup) IsLandline(ctx context.Context, phoneNumber string) (bool, error) {
	params := &lookups.FetchPhoneNumberParams{}
	params.SetType([]string{"carrier"})

	resp, err := l.client.LookupsV1.FetchPhoneNumber(phoneNumber, params)
	if err != nil {
		return false, fmt.Errorf("carrier lookup for %s: %w", phoneNumber, err)
	}
	return landlineCarrier(resp.Carrier), nil
}

// landlineCarrier reads the carrier type out of a lookup response payload.
// The payload is untyped; anything that isn't a map with type "landline"
// counts as mobile.
func landlineCarrier(carrier *interface{}) bool {
	if carrier == nil {
		return false
	}
	carrierMap, _ := (*carrier).(map[string]interface{})
	carrierType, _ := carrierMap["type"].(string)
	return carrierType == "landline"
}

// backendClient talks JSON to the customer backend.
type backendClient struct {
	baseURL string
	http    *http.Client
}

// NewBackendClient builds the HTTP implementation of Backend.
func NewBackendClient(baseURL string) Backend {
	return &backendClient{baseURL: baseURL, http: httpClientWithTimeout}
}

func (c *backendClient) LookupProfile(ctx context.Context, phoneNumber string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/lookup-phone", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("phoneNumber", phoneNumber)
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool    `json:"success"`
		Data    Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("profile lookup decode: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("profile lookup for %s: backend reported failure", phoneNumber)
	}
	return &result.Data, nil
}

func (c *backendClient) Login(ctx context.Context, phoneNumber, email, password string) error {
	return c.post(ctx, "/api/login", map[string]string{
		"phoneNumber": phoneNumber,
		"email":       email,
		"password":    password,
	})
}

func (c *backendClient) SendMessage(ctx context.Context, phoneNumber string) error {
	return c.post(ctx, "/api/send-message", map[string]string{"phoneNumber": phoneNumber})
}

func (c *backendClient) RequestReplacementInfo(ctx context.Context, phoneNumber string) error {
	return c.post(ctx, "/api/send-user-info-request", map[string]string{"phoneNumber": phoneNumber})
}

func (c *backendClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}

// docPromptStore fetches published documents as plain text.
type docPromptStore struct {
	http *http.Client
}

// NewDocPromptStore builds the document-export PromptStore.
func NewDocPromptStore() PromptStore {
	return &docPromptStore{http: httpClientWithTimeout}
}

func (s *docPromptStore) Fetch(ctx context.Context, docID string) (string, error) {
	url := fmt.Sprintf("https://docs.google.com/document/d/%s/export?format=txt", docID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("prompt fetch %s: %w", docID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("prompt fetch %s: status %d", docID, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("prompt fetch %s: %w", docID, err)
	}
	return string(content), nil
}
