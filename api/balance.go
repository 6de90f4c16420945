package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tumapay/tuma/internal/apierror"
)

// GetBalance retrieves the cached balance for one account and currency.
// An account that has never received a ledger entry is a 404, not a zero
// balance.
func (a Api) GetBalance(c *gin.Context) {
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

	resp, err := a.tuma.GetBalance(c.Request.Context(), accountID, currency)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAllBalances retrieves balances across all accounts.
func (a Api) GetAllBalances(c *gin.Context) {
	limit, offset := paginationParams(c)
	resp, err := a.tuma.ListBalances(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
