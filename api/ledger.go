package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/tumapay/tuma/api/model"
	"github.com/tumapay/tuma/internal/apierror"
)

// RecordAdjustment appends a manual adjustment entry to an account's ledger.
// The ledger is append-only: drift and operator corrections are expressed as
// new adjustment entries, never as edits to existing ones.
func (a Api) RecordAdjustment(c *gin.Context) {
	var req model2.RecordAdjustment
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := req.ValidateRecordAdjustment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.tuma.AppendEntry(c.Request.Context(), req.ToDraft())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetLedgerEntry retrieves a single ledger entry by its ID.
func (a Api) GetLedgerEntry(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tuma.GetLedgerEntry(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetEntriesByAccount retrieves an account's ledger entries in append order.
func (a Api) GetEntriesByAccount(c *gin.Context) {
	accountID, passed := c.Params.Get("account_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required. pass account_id in the route /:account_id"})
		return
	}

	limit, offset := paginationParams(c)
	resp, err := a.tuma.ListEntriesByAccount(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetEntriesByTransaction retrieves every ledger entry a transaction
// produced, placeholder and audit entries included.
func (a Api) GetEntriesByTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tuma.ListEntriesByTransaction(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
