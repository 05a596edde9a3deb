package httputils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func PostJSON(ctx context.Context, url string, body interface{}, resp interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %d", r.StatusCode)
	}
	if resp != nil {
		return json.NewDecoder(r.Body).Decode(resp)
	}
	return nil
}

// GetStream fetches a resource and hands back the raw body. Caller closes.
func GetStream(ctx context.Context, url string) (io.ReadCloser, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, "", err
	}
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	if r.StatusCode != http.StatusOK {
		defer r.Body.Close()
		return nil, 0, "", fmt.Errorf("bad status: %d", r.StatusCode)
	}
	return r.Body, r.ContentLength, r.Header.Get("Content-Type"), nil
}
