package request

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// ToJsonReq converts a payload into a JSON-encoded buffer ready to be sent
// as an HTTP request body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	bytePayload := bytes.NewBuffer(c)
	return bytePayload, nil
}

// Call sends req and decodes the JSON response body into response.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return resp, err
	}
	return resp, err
}
