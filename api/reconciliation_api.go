package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tumapay/tuma/internal/apierror"
)

// ReconcileAccount replays one account's ledger against its cached balance
// and returns the drift report. Reconciliation is read-only: drift is
// reported, never corrected.
func (a Api) ReconcileAccount(c *gin.Context) {
	accountID, passed := c.Params.Get("account_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required. pass account_id in the route /:account_id"})
		return
	}

	currency := c.Query("currency")
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency query parameter is required"})
		return
	}

	resp, err := a.tuma.Reconcile(c.Request.Context(), accountID, currency)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ReconcileAll replays every known account and returns all drift reports.
func (a Api) ReconcileAll(c *gin.Context) {
	resp, err := a.tuma.ReconcileAll(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
