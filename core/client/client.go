// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the gateway's REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is perfectly suited for unit tests. With NewWithURL, the same calls go to a remote gateway.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the gateway,
// through the mux router
//
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the gateway
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Module represents the records of a project module
type Module struct {
	client     *Client
	project    string
	module     string
	parameters []string
}

// Module returns a new module client
func (c Client) Module(project, module string) Module {
	return Module{
		client:  &c,
		project: project,
		module:  module,
	}
}

// WithParameter returns a new module client with a URL parameter added.
func (m Module) WithParameter(key string, value string) Module {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// we want a true copy to avoid side effects
	m.parameters = append(append([]string{}, m.parameters...), parameter)
	return m
}

func (m Module) basePath() string {
	return "/" + url.PathEscape(m.project) + "/" + url.PathEscape(m.module)
}

func withParameters(path string, parameters []string) string {
	if len(parameters) > 0 {
		return path + "?" + strings.Join(parameters, "&")
	}
	return path
}

// Path returns the path of the module plus optional query strings
func (m Module) Path() string {
	return withParameters(m.basePath(), m.parameters)
}

// Create creates a new record.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated or http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (m Module) Create(body interface{}, result interface{}) (int, error) {
	return m.client.RawPost(m.Path(), body, result)
}

// List gets all records of the module.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be []map[string]interface{} or a raw *[]byte.
func (m Module) List(result interface{}) (int, error) {
	return m.client.RawGet(m.Path(), result)
}

// Item represents a single record of a module
type Item struct {
	module     Module
	id         string
	parameters []string
}

// Item returns a client for the record with id
func (m Module) Item(id uuid.UUID) Item {
	return Item{module: m, id: id.String()}
}

// ItemWithRawID returns a client for a record, the id is not required to be a UUID
func (m Module) ItemWithRawID(id string) Item {
	return Item{module: m, id: id}
}

// WithParameter returns a new item client with a URL parameter added.
func (i Item) WithParameter(key string, value string) Item {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	i.parameters = append(append([]string{}, i.parameters...), parameter)
	return i
}

// Path returns the created path for this item
func (i Item) Path() string {
	return withParameters(i.module.basePath()+"/"+url.PathEscape(i.id), i.parameters)
}

// Read reads the record
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can also be map[string]interface{} or a raw *[]byte.
func (i Item) Read(result interface{}) (int, error) {
	return i.module.client.RawGet(i.Path(), result)
}

// Update merges body into the record
//
// The operation corresponds to a PUT request.
//
// Expects http.StatusOK as response, otherwise it will flag an error.
// Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (i Item) Update(body interface{}, result interface{}) (int, error) {
	return i.module.client.RawPut(i.Path(), body, result)
}

// Patch is the same as Update, but corresponds to a PATCH request.
func (i Item) Patch(body interface{}, result interface{}) (int, error) {
	return i.module.client.RawPatch(i.Path(), body, result)
}

// Delete deletes the record
//
// The operation corresponds to a DELETE request.
//
// Expects http.StatusOK as response, otherwise it will flag an error.
// Returns the actual http status code.
func (i Item) Delete() (int, error) {
	return i.module.client.RawDelete(i.Path())
}

// SoftDelete flags the record as deleted
func (i Item) SoftDelete() (int, error) {
	return i.module.client.RawDelete(i.WithParameter("soft", "true").Path())
}

// do sends a request and decodes the response body into result. Any status not
// in expected is flagged as an error.
func (c Client) do(method, path string, header map[string]string, body interface{}, result interface{}, expected ...int) (int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, nil, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewBuffer(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, nil, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	ok := false
	for _, e := range expected {
		if status == e {
			ok = true
		}
	}
	if !ok {
		if raw, isRaw := result.(*[]byte); isRaw {
			*raw = resBody
		}
		return status, res.Header, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expected, strings.TrimSpace(string(resBody)))
	}

	if len(resBody) > 0 && result != nil {
		if raw, isRaw := result.(*[]byte); isRaw {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, res.Header, err
}

// RawGet gets a resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets a resource from path. Expects http.StatusOK or http.StatusNotModified
// as response, otherwise it will flag an error.
//
// Returns the actual http status code and the return header
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	return c.do(http.MethodGet, path, header, nil, result, http.StatusOK, http.StatusNotModified)
}

// RawPost posts a resource to path. Expects http.StatusCreated or http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPost, path, nil, body, result, http.StatusCreated, http.StatusOK)
	return status, err
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPut, path, nil, body, result, http.StatusOK)
	return status, err
}

// RawPatch patches a resource at path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPatch, path, nil, body, result, http.StatusOK)
	return status, err
}

// RawDelete deletes a resource at path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, _, err := c.do(http.MethodDelete, path, nil, nil, nil, http.StatusOK)
	return status, err
}

// RawRequest sends a request with any method to path and returns the status code and
// the raw response body. It never flags a status code as error.
func (c Client) RawRequest(method, path string, body interface{}) (int, []byte, error) {
	var raw []byte
	status, _, err := c.do(method, path, nil, body, &raw,
		http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusNotModified,
		http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusInternalServerError)
	return status, raw, err
}
