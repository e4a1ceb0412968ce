package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/remi2ai/api/handlers"
	"github.com/feichai0017/remi2ai/api/middleware"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type Options struct {
	AllowedOrigins []string
	NewSessionID   func() string
	SecureCookies  bool
	Logger         logger.Logger
}

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, opts Options) {
	// 全局中间件
	r.Use(middleware.CORS(opts.AllowedOrigins))
	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(opts.Logger))
	}

	// API 版本组
	v1 := r.Group("/api/v1")
	v1.Use(middleware.Session(opts.NewSessionID, opts.SecureCookies))

	auth := v1.Group("/auth")
	{
		auth.GET("/session", h.Auth.GetSession)
		auth.GET("/login", h.Auth.Login)
		auth.GET("/callback", h.Auth.Callback)
		auth.POST("/token", h.Auth.SetToken)
		auth.DELETE("/session", h.Auth.SignOut)
	}

	files := v1.Group("/staging/files")
	{
		files.GET("", h.Staging.ListFiles)
		files.POST("", h.Staging.AddFiles)
		files.DELETE("/:key", h.Staging.RemoveFile)
		files.GET("/:key/preview", h.Staging.GetPreview)
	}

	// 发票处理路由组
	invoices := v1.Group("/invoices")
	{
		invoices.POST("/process", h.Invoice.Process)
		invoices.POST("/submit", h.Invoice.Submit)
		invoices.GET("/status/:taskId", h.Invoice.GetStatus)
		invoices.GET("/events/:taskId", h.Invoice.Events)
		invoices.GET("/download/:taskId", h.Invoice.DownloadResult)
		invoices.DELETE("/task/:taskId", h.Invoice.CancelTask)
	}
}
