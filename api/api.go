/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	collect "github.com/blnkfinance/collect"
	"github.com/blnkfinance/collect/api/middleware"
	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

type Api struct {
	collect *collect.Collector
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/batch-runs", a.ListBatchRuns)
	router.POST("/batch-runs", a.CreateBatchRun)
	router.GET("/batch-runs/:id", a.GetBatchRun)
	router.GET("/batch-runs/:id/transactions", a.GetBatchRunTransactions)
	router.POST("/batch-runs/:id/submit", a.SubmitBatchRun)

	router.GET("/groups/:id/transactions", a.GetGroupTransactions)
	router.GET("/members/:reference/transactions", a.GetMemberTransactions)
	router.GET("/members/:reference/arrears", a.GetMemberArrears)
	router.GET("/arrears", a.GetArrearsSummary)

	router.POST("/transactions/:id/reverse", a.ReverseTransaction)

	router.GET("/escalations", a.ListEscalations)
	router.GET("/reconciliation-exceptions", a.ListReconciliationExceptions)
	router.POST("/callbacks/status", a.StatusCallback)
	return a.router
}

func NewAPI(c *collect.Collector) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := c.Config()
	if fetched, err := config.Fetch(); err == nil {
		conf = fetched
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{collect: c, router: r}
}

// respondError writes err with the status its apierror code maps to.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	trace.SpanFromContext(c.Request.Context()).RecordError(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func requiredParam(c *gin.Context, name string) (string, bool) {
	value, passed := c.Params.Get(name)
	if !passed || value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required. pass " + name + " in the route /:" + name})
		return "", false
	}
	return value, true
}
