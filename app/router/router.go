package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/expertclone/backend-go/app/controllers"
	"github.com/expertclone/backend-go/app/middleware"
)

// Init registers all routes. Must be called after config is loaded
// and controllers.Setup has injected the service instances.
func Init() {
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)
	web.InsertFilter("/*", web.BeforeRouter, middleware.AccessLogFilter)
	web.InsertFilter("/*", web.FinishRouter, middleware.AccessLogFinish, web.WithReturnOnOutput(false))

	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	// 知识处理与查询
	ragController := &controllers.RAGController{}
	web.Router("/api/clones/:id/process-knowledge", ragController, "post:ProcessKnowledge")
	web.Router("/api/clones/:id/query", ragController, "post:Query")

	// 注意：具体路由必须在参数路由之前，否则health会被:id匹配
	web.Router("/api/rag/health", &controllers.HealthController{}, "get:RAGHealth")
	web.Router("/api/rag/initializations/:job_id/status", ragController, "get:JobStatus")
	web.Router("/api/rag/clones/:id/status", ragController, "get:CloneStatus")
	web.Router("/api/rag/clones/:id/documents", ragController, "get:ListDocuments")
}
