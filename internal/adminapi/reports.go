package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/internal/webserver"
)

func registerReportRoutes() {
	webserver.ApiGET("/reports/messages-by-line", reportMessagesByLine)
	webserver.ApiGET("/reports/messages-by-operator", reportMessagesByOperator)
	webserver.ApiGET("/reports/lines-status", reportLinesStatus)
}

func reportWindow(c echo.Context) time.Time {
	days := cast.ToInt(c.QueryParam("days"))
	if days < 1 || days > 365 {
		days = 30
	}
	return time.Now().AddDate(0, 0, -days)
}

type lineReportRow struct {
	LineID       int64  `json:"line_id,string" gorm:"column:line_id"`
	InstanceName string `json:"instance_name" gorm:"column:instance_name"`
	PhoneNumber  string `json:"phone_number" gorm:"column:phone_number"`
	Sent         int64  `json:"sent" gorm:"column:sent"`
	Received     int64  `json:"received" gorm:"column:received"`
	Total        int64  `json:"total" gorm:"column:total"`
}

func reportMessagesByLine(c echo.Context) error {
	since := reportWindow(c)

	var rows []lineReportRow
	err := GetDB(c).Model(&domain.Message{}).
		Select(`line.id as line_id, line.instance_name, line.phone_number,
			sum(case when message.direction = ? then 1 else 0 end) as sent,
			sum(case when message.direction = ? then 1 else 0 end) as received,
			count(message.id) as total`, domain.DirectionSent, domain.DirectionReceived).
		Joins("join conversation on conversation.id = message.conversation_id").
		Joins("join line on line.id = conversation.line_id").
		Where("message.timestamp >= ?", since).
		Group("line.id, line.instance_name, line.phone_number").
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to build report", err.Error())
	}
	return ok(c, rows)
}

type operatorReportRow struct {
	OperatorID int64  `json:"operator_id,string" gorm:"column:operator_id"`
	Name       string `json:"name" gorm:"column:name"`
	Lines      int64  `json:"lines" gorm:"column:lines"`
	Total      int64  `json:"total" gorm:"column:total"`
}

func reportMessagesByOperator(c echo.Context) error {
	since := reportWindow(c)

	var rows []operatorReportRow
	err := GetDB(c).Model(&domain.Message{}).
		Select(`sys_user.id as operator_id, sys_user.name,
			count(distinct line.id) as lines,
			count(message.id) as total`).
		Joins("join conversation on conversation.id = message.conversation_id").
		Joins("join line on line.id = conversation.line_id").
		Joins("join sys_user on sys_user.id = line.operator_id").
		Where("message.timestamp >= ?", since).
		Group("sys_user.id, sys_user.name").
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to build report", err.Error())
	}
	return ok(c, rows)
}

type statusReportRow struct {
	Status string `json:"status" gorm:"column:status"`
	Total  int64  `json:"total" gorm:"column:total"`
}

func reportLinesStatus(c echo.Context) error {
	var rows []statusReportRow
	err := GetDB(c).Model(&domain.Line{}).
		Select("status, count(id) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to build report", err.Error())
	}
	return ok(c, rows)
}
