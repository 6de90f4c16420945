package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tumapay/tuma/config"
	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// IngestWebhook receives one provider callback. The provider only ever sees
// a receipt acknowledgement or an authentication rejection; what happened to
// the payload is recorded internally on the audit trail.
func (a Api) IngestWebhook(c *gin.Context) {
	provider, passed := c.Params.Get("provider")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required. pass provider in the route /:provider"})
		return
	}

	rawPayload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	signature := c.GetHeader(signatureHeader(provider))

	resp, err := a.tuma.IngestWebhook(c.Request.Context(), provider, rawPayload, signature, c.ClientIP())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// signatureHeader resolves the per-provider signature header name, falling
// back to the default when the provider is unknown. Unknown providers still
// reach the service so the rejection lands on one code path.
func signatureHeader(provider string) string {
	cnf, err := config.Fetch()
	if err != nil {
		return "X-Signature"
	}
	if providerCnf, ok := cnf.Provider(provider); ok {
		return providerCnf.SignatureHeader
	}
	return "X-Signature"
}

// GetWebhookEvents retrieves the webhook audit trail, newest first. Filter
// by provider with ?provider=.
func (a Api) GetWebhookEvents(c *gin.Context) {
	limit, offset := paginationParams(c)
	resp, err := a.tuma.ListWebhookEvents(c.Request.Context(), c.Query("provider"), limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetRetryRecords retrieves webhook retry records by status. Defaults to the
// permanently failed backlog, which is what operators review.
func (a Api) GetRetryRecords(c *gin.Context) {
	status := model.RetryStatus(c.DefaultQuery("status", string(model.RetryStatusPermanentlyFailed)))
	switch status {
	case model.RetryStatusPending, model.RetryStatusResolved, model.RetryStatusPermanentlyFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of pending, resolved, permanently_failed"})
		return
	}

	limit, offset := paginationParams(c)
	resp, err := a.tuma.ListRetryRecords(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
