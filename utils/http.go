package utils

import (
	"io"
	"net/http"

	"github.com/ansel1/merry"
)

// GetHTTPBody performs req and reads the whole response body.
func GetHTTPBody(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, merry.Wrap(err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, merry.Wrap(err)
	}
	return resp, buf, nil
}
