package request

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestToJsonReq(t *testing.T) {
	buf, err := ToJsonReq(map[string]string{"status": "completed"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed"}`, buf.String())
}

func TestCall(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://example.com/notify",
		httpmock.NewStringResponder(200, `{"ok": true}`))

	body, err := ToJsonReq(map[string]string{"text": "alert"})
	assert.NoError(t, err)

	req, err := http.NewRequest("POST", "http://example.com/notify", body)
	assert.NoError(t, err)

	var response map[string]interface{}
	resp, err := Call(req, &response)
	assert.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, response["ok"])
}
