package hr104

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autopunch/internal/config"
	"autopunch/internal/models"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the mobile gateway of the upstream HR system.
const DefaultBaseURL = "https://pro104.provision.com.tw:8443/wfmobileweb/Service/eHRFlowMobileService.asmx"

// testCompanyID short-circuits all network calls; used by demo bindings.
const testCompanyID = "TEST"

var ErrAdapter = errors.New("external service error")

// Client talks to the HR gateway. Every operation is a form-encoded POST that
// answers with a FunctionExecResult XML envelope.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zerolog.Logger
}

func NewClient(cfg config.HRConfig, logger *zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type execResult struct {
	IsSuccess     bool   `xml:"IsSuccess"`
	ReturnMessage string `xml:"ReturnMessage"`
	ReturnObject  string `xml:"ReturnObject"`
}

// Login verifies credentials and returns the HR session token.
func (c *Client) Login(ctx context.Context, companyID, internalCompanyID, empID, password string) (string, error) {
	if companyID == testCompanyID {
		return "mock_test_token", nil
	}

	params := url.Values{}
	params.Set("groupUBINo", companyID)
	params.Set("companyID", internalCompanyID)
	params.Set("account", empID)
	params.Set("credential", password)

	result, err := c.doForm(ctx, "Login", params, "")
	if err != nil {
		c.logger.Error().Err(err).Str("emp_id", empID).Msg("HR login request failed")
		return "", fmt.Errorf("%w: login failed", ErrAdapter)
	}
	if !result.IsSuccess {
		if result.ReturnMessage != "" {
			return "", fmt.Errorf("%w: %s", ErrAdapter, result.ReturnMessage)
		}
		return "", fmt.Errorf("%w: login failed", ErrAdapter)
	}
	return result.ReturnObject, nil
}

// SubmitPunch sends one attendance card insert for the given coordinate.
func (c *Client) SubmitPunch(ctx context.Context, creds *models.Credentials, lat, lng float64) error {
	if creds.CompanyID == testCompanyID {
		return nil
	}

	params := url.Values{}
	params.Set("key", creds.Token)
	params.Set("groupUBINo", creds.CompanyID)
	params.Set("companyID", creds.InternalCompanyID)
	params.Set("account", creds.EmpID)
	params.Set("language", "zh-tw")
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("address", "")
	params.Set("memo", "")
	params.Set("mobile_info", "")
	params.Set("locationID", "0")
	params.Set("Offset", "0")
	params.Set("temperature", "")

	result, err := c.doForm(ctx, "InsertCardData", params, creds.Cookies)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}
	if !result.IsSuccess {
		if result.ReturnMessage != "" {
			return fmt.Errorf("%w: %s", ErrAdapter, result.ReturnMessage)
		}
		return fmt.Errorf("%w: check-in failed", ErrAdapter)
	}
	return nil
}

// Company is one selectable company inside a group account.
type Company struct {
	ID   string `json:"CompanyID"`
	Name string `json:"CompanyName"`
}

// CompanyList fetches the companies under a group unified business number.
// The gateway wraps a JSON document inside an XML <string> element here.
func (c *Client) CompanyList(ctx context.Context, companyID string) ([]Company, error) {
	params := url.Values{}
	params.Set("groupUBINo", companyID)

	body, err := c.post(ctx, "GetComapnyList", params, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	var envelope struct {
		Value string `xml:",chardata"`
	}
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed company list: %v", ErrAdapter, err)
	}

	var doc struct {
		Tables []struct {
			Rows []Company `json:"Rows"`
		} `json:"Tables"`
	}
	if err := json.Unmarshal([]byte(envelope.Value), &doc); err != nil || len(doc.Tables) == 0 {
		return []Company{}, nil
	}
	return doc.Tables[0].Rows, nil
}

func (c *Client) doForm(ctx context.Context, op string, params url.Values, cookies string) (*execResult, error) {
	body, err := c.post(ctx, op, params, cookies)
	if err != nil {
		return nil, err
	}

	var result execResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("malformed response from %s: %w", op, err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, op string, params url.Values, cookies string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+op, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", op, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
