package adminapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/app"
	"github.com/zapmirror/zapmirror/internal/lines"
	"github.com/zapmirror/zapmirror/internal/queue"
	"github.com/zapmirror/zapmirror/internal/webserver"
)

var (
	appCtx   app.AppContext
	linesSvc *lines.Service
	jobQueue *queue.Queue
)

// Init wires handler dependencies and registers every admin route. Must run
// after webserver.Init.
func Init(ctx app.AppContext, svc *lines.Service, q *queue.Queue) {
	appCtx = ctx
	linesSvc = svc
	jobQueue = q

	registerAuthRoutes()
	registerUserRoutes()
	registerLineRoutes()
	registerConversationRoutes()
	registerDashboardRoutes()
	registerReportRoutes()
	registerWebhookRoutes()
}

// GetApp returns the application context stored by the webserver middleware.
func GetApp(c echo.Context) app.AppContext {
	return c.Get(webserver.ContextAppKey).(app.AppContext)
}

func GetDB(c echo.Context) *gorm.DB {
	return GetApp(c).DB()
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"msg":  "success",
		"data": data,
	})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":   code,
		"msg":    msg,
		"detail": detail,
	})
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return ok(c, map[string]interface{}{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (int, int) {
	page := cast.ToInt(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize := cast.ToInt(c.QueryParam("page_size"))
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func handleValidationError(c echo.Context, err error) error {
	return fail(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request validation failed", err.Error())
}
