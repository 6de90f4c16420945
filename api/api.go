package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tumapay/tuma"
	"github.com/tumapay/tuma/api/middleware"
	"github.com/tumapay/tuma/config"
)

type Api struct {
	tuma   *tuma.Tuma
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/transactions", a.CreateTransaction)
	router.GET("/transactions", a.GetAllTransactions)
	router.GET("/transactions/:id", a.GetTransaction)
	router.GET("/transactions/:id/history", a.GetStatusHistory)
	router.GET("/transactions/:id/entries", a.GetEntriesByTransaction)
	router.PUT("/transactions/:id/status", a.TransitionTransaction)

	router.GET("/balances", a.GetAllBalances)
	router.GET("/balances/:account_id", a.GetBalance)

	router.POST("/ledger-entries", a.RecordAdjustment)
	router.GET("/ledger-entries/:id", a.GetLedgerEntry)
	router.GET("/accounts/:account_id/entries", a.GetEntriesByAccount)

	router.POST("/webhooks/:provider", a.IngestWebhook)
	router.GET("/webhook-events", a.GetWebhookEvents)
	router.GET("/webhook-retries", a.GetRetryRecords)

	router.POST("/reconciliation", a.ReconcileAll)
	router.POST("/reconciliation/:account_id", a.ReconcileAccount)

	return a.router
}

func NewAPI(t *tuma.Tuma) (*Api, error) {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{tuma: t, router: r}, nil
}
