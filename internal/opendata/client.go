// Package opendata locates and downloads yearly delay extracts from the
// City of Toronto CKAN portal.
package opendata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/provider/resilience"
)

const (
	DefaultBaseURL   = "https://ckan0.cf.opendata.inter.prod-toronto.ca/api/3/action"
	DefaultDatasetID = "ttc-bus-delay-data"
)

var (
	// ErrResourceNotFound is returned when no resource matches a year.
	ErrResourceNotFound = errors.New("no matching resource")

	// ErrUnsupportedFormat is returned for resources that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported resource format")
)

// Format is a resource's file format, lowercased.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Resource is one downloadable file of a CKAN package.
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

// Kind returns the normalized format.
func (r Resource) Kind() Format {
	return Format(strings.ToLower(strings.TrimSpace(r.Format)))
}

// ClientConfig holds configuration for the CKAN client.
type ClientConfig struct {
	BaseURL    string
	DatasetID  string
	HTTPClient *resilience.Client
	Logger     zerolog.Logger

	// Providers, if set, tracks the default HTTP client.
	Providers *resilience.Registry
}

// Client talks to the CKAN action API.
type Client struct {
	baseURL    string
	datasetID  string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a CKAN client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		datasetID:  cfg.DatasetID,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.datasetID == "" {
		c.datasetID = DefaultDatasetID
	}
	if c.httpClient == nil {
		cc := resilience.DefaultClientConfig("ckan")
		cc.Registry = cfg.Providers
		cc.Logger = cfg.Logger
		c.httpClient = resilience.NewClient(cc)
	}
	return c
}

type packageShowResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Resources []Resource `json:"resources"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Resources lists the resources of the configured dataset.
func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	u := c.baseURL + "/package_show?" + url.Values{"id": {c.datasetID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package_show %s: unexpected status code: %d", c.datasetID, resp.StatusCode)
	}

	var body packageShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding package_show: %w", err)
	}
	if !body.Success {
		msg := "unsuccessful"
		if body.Error != nil {
			msg = body.Error.Message
		}
		return nil, fmt.Errorf("package_show %s: %s", c.datasetID, msg)
	}
	return body.Result.Resources, nil
}

// FindYear returns the first resource whose name mentions year and whose
// format is CSV or XLSX.
func FindYear(resources []Resource, year int) (Resource, error) {
	y := strconv.Itoa(year)
	for _, r := range resources {
		if !strings.Contains(r.Name, y) {
			continue
		}
		if k := r.Kind(); k == FormatCSV || k == FormatXLSX {
			return r, nil
		}
	}
	return Resource{}, fmt.Errorf("%w for year %d", ErrResourceNotFound, year)
}

// Download streams a resource body. The caller closes it.
func (c *Client) Download(ctx context.Context, res Resource) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", res.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: unexpected status code: %d", res.Name, resp.StatusCode)
	}
	return resp.Body, nil
}

// FetchYearCSV writes the delay extract for year to w as CSV, converting
// spreadsheet resources on the way.
func (c *Client) FetchYearCSV(ctx context.Context, year int, w io.Writer) (Resource, error) {
	resources, err := c.Resources(ctx)
	if err != nil {
		return Resource{}, err
	}
	res, err := FindYear(resources, year)
	if err != nil {
		return Resource{}, err
	}

	c.logger.Info().
		Int("year", year).
		Str("resource", res.Name).
		Str("format", string(res.Kind())).
		Msg("downloading delay extract")

	body, err := c.Download(ctx, res)
	if err != nil {
		return res, err
	}
	defer body.Close()

	switch res.Kind() {
	case FormatCSV:
		if _, err := io.Copy(w, body); err != nil {
			return res, fmt.Errorf("copying %s: %w", res.Name, err)
		}
	case FormatXLSX:
		if err := XLSXToCSV(body, w); err != nil {
			return res, fmt.Errorf("converting %s: %w", res.Name, err)
		}
	default:
		return res, fmt.Errorf("%w: %s", ErrUnsupportedFormat, res.Format)
	}
	return res, nil
}
