package api

import (
	"github.com/gin-gonic/gin"

	"github.com/nidohq/nido/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	users := api.Group("/users")
	{
		users.GET("", handler.List)
		users.GET("/:id", handler.Get)
	}
}
