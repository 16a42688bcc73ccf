package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// predictResponse is the subset of the evaluation result the benchmark reads.
type predictResponse struct {
	Decision    string  `json:"decision"`
	RiskScore   float64 `json:"risk_score"`
	Uncertainty float64 `json:"uncertainty"`
	NoveltyFlag bool    `json:"novelty_flag"`
	Tier        string  `json:"tier"`
	Costs       struct {
		ExpectedLoss     float64 `json:"expected_loss"`
		ManualReviewCost float64 `json:"manual_review_cost"`
		NetUtility       float64 `json:"net_utility"`
	} `json:"costs"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type costPolicy struct {
	FraudCost         float64 `json:"fraudCost" yaml:"fraud_cost"`
	ReviewCost        float64 `json:"reviewCost" yaml:"review_cost"`
	FalsePositiveCost float64 `json:"falsePositiveCost" yaml:"false_positive_cost"`
}

type policyResponse struct {
	View        string     `json:"view"`
	NumFeatures int        `json:"numFeatures"`
	Costs       costPolicy `json:"costs"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *client) health(ctx context.Context) (*healthResponse, error) {
	var resp healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) config(ctx context.Context) (*policyResponse, error) {
	var resp policyResponse
	if err := c.do(ctx, http.MethodGet, "/config", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) predict(ctx context.Context, features []float64) (*predictResponse, error) {
	var resp predictResponse
	body := map[string][]float64{"features": features}
	if err := c.do(ctx, http.MethodPost, "/predict", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
