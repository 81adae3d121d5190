package middleware

import (
	"time"

	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"

	"github.com/expertclone/backend-go/internal/logger"
)

// AccessLogFilter 请求访问日志
// 挂在BeforeRouter记录开始时间，FinishRouter输出一行结构化日志
func AccessLogFilter(ctx *context.Context) {
	ctx.Input.SetData("accessLogStart", time.Now())
}

// AccessLogFinish 请求结束时输出访问日志
func AccessLogFinish(ctx *context.Context) {
	start, ok := ctx.Input.GetData("accessLogStart").(time.Time)
	if !ok {
		return
	}

	logger.Info("http request",
		zap.String("method", ctx.Request.Method),
		zap.String("path", ctx.Request.URL.Path),
		zap.Int("status", ctx.ResponseWriter.Status),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("ip", ctx.Input.IP()))
}
