package messages

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatcore/pkg/apperrors"
	"chatcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	service MessageService
}

func NewMessageHandler(service MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

func (h *MessageHandler) RegisterRoutes(router gin.IRouter) {
	g := router.Group("/api/v1/messages")
	g.GET("/conversation", h.getConversation)
	g.GET("/sent", h.getSent)
	g.GET("/received", h.getReceived)
	g.GET("/search", h.search)
	g.GET("/stats", h.stats)
	g.GET("/deleted", h.getDeleted)
	g.GET("/:id", h.getByID)
}

// @Summary      Get message by id
// @Tags         messages
// @Produce      json
// @Param        id path int true "Message ID"
// @Success      200 {object} response.APIResponse{data=MessageDTO}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /api/v1/messages/{id} [get]
func (h *MessageHandler) getByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid message id", nil)
		return
	}

	m, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		response.SendError(c, err)
		return
	}

	var parent *Message
	if m.ParentID != nil {
		if p, err := h.service.GetByID(c.Request.Context(), *m.ParentID); err == nil {
			parent = &p
		}
	}
	response.SendAPIResponse(c, http.StatusOK, true, "message", ToDTO(m, parent))
}

// @Summary      Get conversation between two users
// @Tags         messages
// @Produce      json
// @Param        user_a query string true "First participant"
// @Param        user_b query string true "Second participant"
// @Param        page query int false "Zero-based page"
// @Param        size query int false "Page size (max 100)"
// @Success      200 {object} response.APIResponse{data=PageDTO}
// @Failure      400 {object} response.APIResponse
// @Router       /api/v1/messages/conversation [get]
func (h *MessageHandler) getConversation(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	p, err := h.service.GetConversation(c.Request.Context(), c.Query("user_a"), c.Query("user_b"), page, size)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversation", ToPageDTO(c.Request.Context(), p, h.service.GetByID))
}

// @Summary      Messages sent by a user
// @Tags         messages
// @Produce      json
// @Param        username query string true "Sender"
// @Param        page query int false "Zero-based page"
// @Param        size query int false "Page size (max 100)"
// @Success      200 {object} response.APIResponse{data=PageDTO}
// @Failure      400 {object} response.APIResponse
// @Router       /api/v1/messages/sent [get]
func (h *MessageHandler) getSent(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	p, err := h.service.GetSent(c.Request.Context(), c.Query("username"), page, size)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "sent messages", ToPageDTO(c.Request.Context(), p, h.service.GetByID))
}

// @Summary      Messages received by a user
// @Tags         messages
// @Produce      json
// @Param        username query string true "Recipient"
// @Param        page query int false "Zero-based page"
// @Param        size query int false "Page size (max 100)"
// @Success      200 {object} response.APIResponse{data=PageDTO}
// @Failure      400 {object} response.APIResponse
// @Router       /api/v1/messages/received [get]
func (h *MessageHandler) getReceived(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	p, err := h.service.GetReceived(c.Request.Context(), c.Query("username"), page, size)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "received messages", ToPageDTO(c.Request.Context(), p, h.service.GetByID))
}

// @Summary      Search messages
// @Tags         messages
// @Produce      json
// @Param        query query string false "Body substring (case-insensitive)"
// @Param        sender query string false "Sender"
// @Param        recipient query string false "Recipient"
// @Param        subject query string false "Subject substring"
// @Param        priority query string false "normal, high or urgent"
// @Param        start_date query string false "RFC3339 or YYYY-MM-DD"
// @Param        end_date query string false "RFC3339 or YYYY-MM-DD"
// @Param        page query int false "Zero-based page"
// @Param        size query int false "Page size (max 100)"
// @Success      200 {object} response.APIResponse{data=PageDTO}
// @Failure      400 {object} response.APIResponse
// @Router       /api/v1/messages/search [get]
func (h *MessageHandler) search(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	from, err := parseDate(c.Query("start_date"), false)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid start_date", nil)
		return
	}
	to, err := parseDate(c.Query("end_date"), true)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid end_date", nil)
		return
	}

	p, err := h.service.Search(c.Request.Context(), SearchCriteria{
		Query:     c.Query("query"),
		Sender:    c.Query("sender"),
		Recipient: c.Query("recipient"),
		Subject:   c.Query("subject"),
		Priority:  c.Query("priority"),
		From:      from,
		To:        to,
		Page:      page,
		Size:      size,
	})
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "search results", ToPageDTO(c.Request.Context(), p, h.service.GetByID))
}

// @Summary      Message statistics for a user
// @Tags         messages
// @Produce      json
// @Param        username query string true "User"
// @Success      200 {object} response.APIResponse{data=Stats}
// @Failure      400 {object} response.APIResponse
// @Router       /api/v1/messages/stats [get]
func (h *MessageHandler) stats(c *gin.Context) {
	st, err := h.service.Stats(c.Request.Context(), c.Query("username"))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "message stats", st)
}

// @Summary      Soft-deleted messages, most recently deleted first
// @Tags         messages
// @Produce      json
// @Param        page query int false "Zero-based page"
// @Param        size query int false "Page size (max 100)"
// @Success      200 {object} response.APIResponse{data=PageDTO}
// @Router       /api/v1/messages/deleted [get]
func (h *MessageHandler) getDeleted(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	p, err := h.service.GetDeleted(c.Request.Context(), page, size)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "deleted messages", ToPageDTO(c.Request.Context(), p, nil))
}

func pageParams(c *gin.Context) (int, int, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		response.SendError(c, apperrors.Validation("invalid page parameter"))
		return 0, 0, false
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "0"))
	if err != nil {
		response.SendError(c, apperrors.Validation("invalid size parameter"))
		return 0, 0, false
	}
	return page, size, true
}

// parseDate accepts RFC3339 or a bare date. A bare end date covers the whole day.
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
