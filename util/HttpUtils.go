package util

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

func ComposeParams(body map[string]string) (params string) {
	keys := make([]string, 0, len(body))
	var buf strings.Builder
	for key := range body {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(body[key])
	}
	return buf.String()
}

//	method: GET, POST
//
// A non-2xx reply is not an error; callers classify the returned status.
func HttpRequest(ctx context.Context, client *http.Client, method string, reqUrl string, body string,
	requestHeaders map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != `` {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqUrl, reader)
	if err != nil {
		return nil, 0, errors.Wrap(err, `build request`)
	}
	for k, v := range requestHeaders {
		req.Header.Add(k, v)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, `can not process request %s`, method)
	}
	defer resp.Body.Close()

	bodyData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, `can not read message from request`)
	}
	return bodyData, resp.StatusCode, nil
}
