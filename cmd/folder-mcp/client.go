package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// controlPlaneClient relays requests to the daemon's local control plane
// over loopback HTTP.
type controlPlaneClient struct {
	baseURL string
	http    *http.Client
}

func newControlPlaneClient(port int) *controlPlaneClient {
	return &controlPlaneClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// dispatch routes a stdio request's method name to a control-plane
// endpoint, returning its decoded JSON response body.
func (c *controlPlaneClient) dispatch(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "validateFolder":
		return c.post("/api/v0/folders/validate", params)
	case "addFolder":
		return c.post("/api/v0/folders", params)
	case "removeFolder":
		return nil, c.delete("/api/v0/folders", params)
	case "listFolders":
		return c.get("/api/v0/folders")
	case "status":
		return c.get("/api/v0/status")
	case "search":
		return c.post("/api/v0/search", params)
	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

func (c *controlPlaneClient) post(path string, body json.RawMessage) (interface{}, error) {
	response, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return decodeOrError(response)
}

func (c *controlPlaneClient) get(path string) (interface{}, error) {
	response, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	return decodeOrError(response)
}

func (c *controlPlaneClient) delete(path string, params json.RawMessage) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return err
	}
	request, err := http.NewRequest(http.MethodDelete, c.baseURL+path+"?path="+url.QueryEscape(req.Path), nil)
	if err != nil {
		return err
	}
	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	_, err = decodeOrError(response)
	return err
}

func decodeOrError(response *http.Response) (interface{}, error) {
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode >= 300 {
		return nil, fmt.Errorf("control plane returned status %d: %s", response.StatusCode, string(body))
	}
	if len(body) == 0 {
		return nil, nil
	}
	var result interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return result, nil
}
