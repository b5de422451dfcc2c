package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/service"
)

type UserHandler struct {
	userService *service.UserService
	pageLimit   int
}

func NewUserHandler(userService *service.UserService, pageLimit int) *UserHandler {
	return &UserHandler{userService: userService, pageLimit: pageLimit}
}

func (h *UserHandler) List(c *gin.Context) {
	limit, offset, err := parsePage(c, h.pageLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.userService.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	base := baseURL(c)
	users := make([]dto.UserResponse, 0, len(page.Items))
	for i := range page.Items {
		users = append(users, toUserResponse(base, &page.Items[i]))
	}
	c.JSON(http.StatusOK, dto.UserListResponse{
		Users:      users,
		TotalItems: page.Total,
		Next:       nextURL(c, page.More, limit, offset),
	})
}
