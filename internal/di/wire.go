//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"OutlierScope/pkg/config"
	"OutlierScope/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application with a
// cleanup that closes infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideAPIMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCache,
		ProvideResultStore,
		ProvideResultPublisher,

		// Use cases
		ProvideDetector,
		ProvideDetectOutliers,
		ProvideKafkaDetectHandler,
		ProvideJobQueue,

		// HTTP
		ProvideRateLimiter,
		ProvideOutliersHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
