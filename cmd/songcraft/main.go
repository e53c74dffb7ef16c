package main

import (
	"os"
	"strconv"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/cache"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/eventledger"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/logger"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/migration"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/observability/metrics"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/server"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		// Functional domains
		eventledger.Module,
		order.Module,
		song.Module,
		providers.Module,
		payment.Module,
		generation.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}
