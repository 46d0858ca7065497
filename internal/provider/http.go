package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBody caps upstream responses; guide payloads are a few MB at most.
const maxBody = 32 << 20

// fetch performs a GET with the given headers and returns the body.
func fetch(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("ReadAll: %w", err)
	}
	return body, nil
}

// fetchJSON GETs url and decodes the body (plain JSON or JSONP) into dst.
func fetchJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, dst any) error {
	body, err := fetch(ctx, client, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(unwrapJSONP(body), dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// unwrapJSONP strips a callback(...) wrapper if present.
func unwrapJSONP(body []byte) []byte {
	b := bytes.TrimSpace(body)
	if len(b) == 0 || b[0] == '{' || b[0] == '[' {
		return b
	}
	lp := bytes.IndexByte(b, '(')
	rp := bytes.LastIndexByte(b, ')')
	if lp < 0 || rp <= lp {
		return b
	}
	return bytes.TrimSpace(b[lp+1 : rp])
}
