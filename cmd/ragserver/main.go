package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/expertclone/backend-go/app/bootstrap"
	"github.com/expertclone/backend-go/app/router"
	"github.com/expertclone/backend-go/internal/config"
	"github.com/expertclone/backend-go/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init()

	web.BConfig.AppName = "ExpertClone RAG Service"
	web.BConfig.CopyRequestBody = true

	port := 8002
	if p, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		port = p
	}
	web.BConfig.Listen.HTTPPort = port

	logger.Info("🚀 Starting ExpertClone RAG Service", zap.Int("port", port))
	web.Run()
}
