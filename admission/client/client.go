// Package client talks to the admission server's operator API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/api"
	"github.com/twitter/admission/admission/domain"
)

const DefaultServerAddr = "localhost:9094"

// Attempts per request, 0 and 1 both mean a single try.
const DefaultHttpTries = 4

// Doer sends HTTP requests, *pester.Client and *http.Client both qualify.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func MakePesterClient(tries int) *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = tries
	client.LogHook = func(e pester.ErrEntry) {
		log.Debugf("Retrying after failed attempt: %+v", e)
	}
	return client
}

// APIError is a non-success response the client has no better error for.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admission server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	rootURI string
	doer    Doer
}

// NewClient creates a client for the server at addr, either host:port or a URL.
// A nil doer uses a retrying pester client.
func NewClient(addr string, doer Doer) *Client {
	if addr == "" {
		addr = DefaultServerAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if doer == nil {
		doer = MakePesterClient(DefaultHttpTries)
	}
	return &Client{rootURI: strings.TrimSuffix(addr, "/"), doer: doer}
}

func (c *Client) Submit(ctx context.Context, def domain.QueryDefinition) (domain.QueryID, error) {
	body, err := json.Marshal(def)
	if err != nil {
		return "", err
	}
	var resp api.SubmitResponse
	if err := c.call(ctx, http.MethodPost, "/v1/query", body, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// List returns every query the server knows, or only those in state when it is not empty.
func (c *Client) List(ctx context.Context, state string) ([]domain.QueryInfo, error) {
	path := "/v1/query"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var infos []domain.QueryInfo
	err := c.call(ctx, http.MethodGet, path, nil, http.StatusOK, &infos)
	return infos, err
}

func (c *Client) Get(ctx context.Context, id domain.QueryID) (domain.QueryInfo, error) {
	var info domain.QueryInfo
	err := c.call(ctx, http.MethodGet, "/v1/query/"+url.PathEscape(string(id)), nil, http.StatusOK, &info)
	return info, err
}

func (c *Client) Cancel(ctx context.Context, id domain.QueryID) error {
	return c.call(ctx, http.MethodDelete, "/v1/query/"+url.PathEscape(string(id)), nil, http.StatusNoContent, nil)
}

func (c *Client) ClusterStatus(ctx context.Context) (api.ClusterStatus, error) {
	var status api.ClusterStatus
	err := c.call(ctx, http.MethodGet, "/v1/cluster", nil, http.StatusOK, &status)
	return status, err
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, expected int, out interface{}) error {
	uri := c.rootURI + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, uri, reader)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding response of %s %s", method, uri)
	}
	return nil
}

func responseError(resp *http.Response) error {
	var apiErr api.ErrorResponse
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.Wrap(domain.ErrQueryNotFound, msg)
	case http.StatusConflict:
		return errors.Wrap(domain.ErrInvalidTransition, msg)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
