package api

import (
	"net/http"

	"alcyxob/filemanager/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	recordService service.RecordService,
) {
	recordHandler := NewRecordHandler(recordService)

	router.Use(RequestIDMiddleware())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	apiV1.Use(AuthMiddleware(jwtSecret))
	{
		apiV1.GET("/kinds", recordHandler.ListKinds)

		records := apiV1.Group("/records/:kind")
		{
			records.POST("", recordHandler.CreateRecord)
			records.GET("", recordHandler.ListRecords)
			records.GET("/:id", recordHandler.GetRecord)
			records.PUT("/:id", recordHandler.UpdateRecord)
			records.DELETE("/:id", recordHandler.DeleteRecord)
		}
	}
}
