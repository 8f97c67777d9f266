package adminapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/internal/lines"
	"github.com/zapmirror/zapmirror/internal/webserver"
)

type linePayload struct {
	InstanceName string `json:"instance_name" validate:"required,min=1,max=100"`
	OperatorID   int64  `json:"operator_id,string" validate:"omitempty"`
}

func registerLineRoutes() {
	webserver.ApiGET("/lines", listLines)
	webserver.ApiGET("/lines/:id", getLine)
	webserver.ApiPOST("/lines", createLine)
	webserver.ApiGET("/lines/:id/qrcode", getLineQr)
	webserver.ApiPOST("/lines/:id/sync", syncLine)
	webserver.ApiPOST("/lines/sync-all", syncAllLines)
}

func listLines(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.Line{})
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		db = db.Where("status = ?", status)
	}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		db = db.Where("LOWER(instance_name) LIKE ? OR phone_number LIKE ?", "%"+strings.ToLower(q)+"%", "%"+q+"%")
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query lines", err.Error())
	}

	var items []domain.Line
	if err := db.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query lines", err.Error())
	}

	return paged(c, items, total, page, pageSize)
}

func getLine(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid line ID", nil)
	}

	var line domain.Line
	if err := GetDB(c).Where("id = ?", id).First(&line).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "LINE_NOT_FOUND", "Line not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query line", err.Error())
	}

	return ok(c, line)
}

// createLine provisions the gateway instance and persists the line. The
// response carries the pairing QR when the instance is not connected yet.
func createLine(c echo.Context) error {
	var payload linePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse line parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if payload.OperatorID != 0 {
		var exists int64
		GetDB(c).Model(&domain.SysUser{}).Where("id = ?", payload.OperatorID).Count(&exists)
		if exists == 0 {
			return fail(c, http.StatusBadRequest, "OPERATOR_NOT_FOUND", "Operator does not exist", nil)
		}
	}

	line, qr, err := linesSvc.Provision(c.Request().Context(), strings.TrimSpace(payload.InstanceName), payload.OperatorID)
	if err != nil {
		return fail(c, http.StatusBadGateway, "GATEWAY_ERROR", "Failed to provision instance", err.Error())
	}

	return ok(c, map[string]interface{}{
		"line":   line,
		"qrcode": qr,
	})
}

func getLineQr(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid line ID", nil)
	}

	qr, err := linesSvc.GetQr(c.Request().Context(), id)
	if errors.Is(err, lines.ErrLineConnected) {
		// nothing to scan, the client stops polling on this status
		return ok(c, map[string]interface{}{"status": domain.LineStatusConnected})
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "LINE_NOT_FOUND", "Line not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusBadGateway, "GATEWAY_ERROR", "Failed to fetch QR code", err.Error())
	}
	return ok(c, qr)
}

func syncLine(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid line ID", nil)
	}

	if err := linesSvc.SyncOne(c.Request().Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(c, http.StatusNotFound, "LINE_NOT_FOUND", "Line not found", nil)
		}
		return fail(c, http.StatusBadGateway, "SYNC_FAILED", "Line sync failed", err.Error())
	}
	return ok(c, map[string]interface{}{"synced": true})
}

func syncAllLines(c echo.Context) error {
	summary, err := linesSvc.SyncAll(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SYNC_FAILED", "Sync-all failed", err.Error())
	}
	return ok(c, summary)
}
