package main

import (
	"github.com/gin-gonic/gin"

	"github.com/gema-platform/live-classroom/config"
	"github.com/gema-platform/live-classroom/internal/logging"
	"github.com/gema-platform/live-classroom/internal/relay"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Log)

	store, err := relay.NewStore(cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer store.Close()
	log.Info("redis connection established")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(relay.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	rl := relay.New(store, cfg.HostTokenSecret, logging.Component(log, "relay"))
	sessions := relay.NewSessionAPI(store, logging.Component(log, "sessions"))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/ws", rl.HandleWS)
		apiGroup.POST("/classroom/:id/session/start", sessions.StartSession)
		apiGroup.POST("/classroom/:id/session/end", sessions.EndSession)
	}

	log.WithField("port", cfg.Port).Info("starting live-classroom relay")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
