package adminapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/internal/webserver"
)

func registerConversationRoutes() {
	webserver.ApiGET("/conversations", listConversations)
	webserver.ApiGET("/conversations/:id", getConversation)
}

type conversationView struct {
	domain.Conversation
	LastMessage *domain.Message `json:"last_message"`
}

// listConversations returns one line's chats, most recently active first,
// each with its newest message as a preview.
func listConversations(c echo.Context) error {
	lineID := cast.ToInt64(c.QueryParam("line_id"))
	if lineID == 0 {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "line_id is required", nil)
	}
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.Conversation{}).Where("line_id = ?", lineID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query conversations", err.Error())
	}

	var convs []domain.Conversation
	if err := db.Order("updated_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&convs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query conversations", err.Error())
	}

	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		view := conversationView{Conversation: conv}
		var last domain.Message
		err := GetDB(c).Where("conversation_id = ?", conv.ID).
			Order("timestamp DESC").Limit(1).First(&last).Error
		if err == nil {
			view.LastMessage = &last
		}
		views = append(views, view)
	}

	return paged(c, views, total, page, pageSize)
}

// getConversation returns the conversation with its messages in
// chronological order.
func getConversation(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID", nil)
	}

	var conv domain.Conversation
	if err := GetDB(c).Where("id = ?", id).First(&conv).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "Conversation not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query conversation", err.Error())
	}

	limit := cast.ToInt(c.QueryParam("limit"))
	if limit < 1 || limit > 2000 {
		limit = 500
	}
	var messages []domain.Message
	if err := GetDB(c).Where("conversation_id = ?", id).
		Order("timestamp ASC").Limit(limit).Find(&messages).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}

	return ok(c, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}
