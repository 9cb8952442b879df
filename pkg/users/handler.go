package users

import (
	"errors"
	"net/http"
	"strconv"

	"chatcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service UserService
}

func NewUserHandler(service UserService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/api/v1/users", h.createUser)
	router.PUT("/api/v1/users/:username", h.updateUser)
	router.DELETE("/api/v1/users/:username", h.deleteUser)
	router.GET("/api/v1/users", h.listUsers)
	router.GET("/api/v1/users/:username", h.getUser)
}

type createUserRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type updateUserRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email"`
}

func (h *UserHandler) sendUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		response.SendAPIResponse(c, http.StatusNotFound, false, "user not found", nil)
	case errors.Is(err, ErrUserExists):
		response.SendAPIResponse(c, http.StatusConflict, false, err.Error(), nil)
	default:
		response.SendAPIResponse(c, http.StatusBadRequest, false, err.Error(), nil)
	}
}

// @Summary      Register a directory entry
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body createUserRequest true "Create user request"
// @Success      201 {object} response.APIResponse{data=User}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /api/v1/users [post]
func (h *UserHandler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	u, err := h.service.CreateUser(c.Request.Context(), req.Username, req.DisplayName, req.Email)
	if err != nil {
		h.sendUserError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "user created", u)
}

// @Summary      Update display name and email
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        username path string true "Username"
// @Param        request body updateUserRequest true "Update user request"
// @Success      200 {object} response.APIResponse{data=User}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /api/v1/users/{username} [put]
func (h *UserHandler) updateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	u, err := h.service.UpdateUser(c.Request.Context(), c.Param("username"), req.DisplayName, req.Email)
	if err != nil {
		h.sendUserError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "user updated", u)
}

// @Summary      Remove a directory entry
// @Tags         users
// @Produce      json
// @Param        username path string true "Username"
// @Success      200 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /api/v1/users/{username} [delete]
func (h *UserHandler) deleteUser(c *gin.Context) {
	if err := h.service.DeleteUser(c.Request.Context(), c.Param("username")); err != nil {
		h.sendUserError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "user deleted", nil)
}

// @Summary      Get directory entry
// @Tags         users
// @Produce      json
// @Param        username path string true "Username"
// @Success      200 {object} response.APIResponse{data=User}
// @Failure      404 {object} response.APIResponse
// @Router       /api/v1/users/{username} [get]
func (h *UserHandler) getUser(c *gin.Context) {
	u, err := h.service.GetUser(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.sendUserError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "user fetched", u)
}

// @Summary      List directory entries
// @Tags         users
// @Produce      json
// @Param        page  query int false "Page number" default(1)
// @Param        limit query int false "Items per page" default(10)
// @Success      200 {object} response.APIResponse{data=UserList}
// @Failure      500 {object} response.APIResponse
// @Router       /api/v1/users [get]
func (h *UserHandler) listUsers(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	items, total, err := h.service.ListUsers(c.Request.Context(), page, limit)
	if err != nil {
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "failed to list users", nil)
		return
	}
	data := UserList{Items: items, Total: total, Page: page, Limit: limit}
	response.SendAPIResponse(c, http.StatusOK, true, "users listed", data)
}
