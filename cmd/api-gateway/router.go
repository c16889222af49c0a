package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/approvals-api/api/swagger"
	"github.com/noah-isme/approvals-api/internal/handler"
	"github.com/noah-isme/approvals-api/internal/middleware"
	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/service"
	"github.com/noah-isme/approvals-api/pkg/config"
	"github.com/noah-isme/approvals-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/approvals-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/approvals-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth     *service.AuthService
	workflow *service.WorkflowService
	queue    *service.QueueService
	students *service.StudentService
	audit    middleware.AuditRecorder
	metrics  *service.MetricsService
	db       handler.Pinger
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics, "/metrics", "/health"))

	ops := handler.NewMetricsHandler(deps.metrics, deps.db)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(deps.auth)
	submissions := handler.NewSubmissionHandler(deps.workflow)
	approvals := handler.NewApprovalHandler(deps.workflow, deps.queue)
	students := handler.NewStudentHandler(deps.students)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/registrations", submissions.Register)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/changes", submissions.SubmitChange)
	secured.GET("/requests/mine", submissions.Mine)
	secured.GET("/requests/:id", submissions.Get)
	secured.GET("/students", students.List)
	secured.GET("/students/:id", students.Get)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/approvals", approvals.Queue)
	admin.GET("/approvals/export", middleware.Audit(deps.audit, models.AuditActionQueueExport, "approval_queue"), approvals.Export)
	admin.POST("/users/:id/:action", approvals.DecideRegistration)
	admin.POST("/changes/:id/approve", approvals.ApproveChange)
	admin.POST("/changes/:id/reject", approvals.RejectChange)

	return r
}
