package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/internal/webserver"
)

func registerDashboardRoutes() {
	webserver.ApiGET("/dashboard/metrics", getDashboardMetrics)
	webserver.ApiGET("/dashboard/operators", listDashboardOperators)
}

func getDashboardMetrics(c echo.Context) error {
	db := GetDB(c)

	var totalLines, totalConversations, totalMessages, messagesToday int64
	db.Model(&domain.Line{}).Count(&totalLines)
	db.Model(&domain.Conversation{}).Count(&totalConversations)
	db.Model(&domain.Message{}).Count(&totalMessages)

	midnight := time.Now().Truncate(24 * time.Hour)
	db.Model(&domain.Message{}).Where("timestamp >= ?", midnight).Count(&messagesToday)

	byStatus := map[string]int64{}
	for _, status := range []string{domain.LineStatusConnecting, domain.LineStatusConnected, domain.LineStatusDisconnected} {
		var n int64
		db.Model(&domain.Line{}).Where("status = ?", status).Count(&n)
		byStatus[status] = n
	}

	var pendingJobs, deadJobs int64
	db.Model(&domain.WebhookJob{}).Where("status = ?", domain.JobStatusPending).Count(&pendingJobs)
	db.Model(&domain.WebhookJob{}).Where("status = ?", domain.JobStatusDead).Count(&deadJobs)

	return ok(c, map[string]interface{}{
		"lines":           totalLines,
		"lines_by_status": byStatus,
		"conversations":   totalConversations,
		"messages":        totalMessages,
		"messages_today":  messagesToday,
		"queue_pending":   pendingJobs,
		"queue_dead":      deadJobs,
	})
}

type operatorView struct {
	ID    int64  `json:"id,string"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Lines int64  `json:"lines"`
}

func listDashboardOperators(c echo.Context) error {
	db := GetDB(c)

	var operators []domain.SysUser
	if err := db.Where("role = ?", domain.RoleOperador).Order("name ASC").Find(&operators).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operators", err.Error())
	}

	views := make([]operatorView, 0, len(operators))
	for _, op := range operators {
		var count int64
		db.Model(&domain.Line{}).Where("operator_id = ?", op.ID).Count(&count)
		views = append(views, operatorView{ID: op.ID, Name: op.Name, Email: op.Email, Lines: count})
	}

	return ok(c, views)
}
