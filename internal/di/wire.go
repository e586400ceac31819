//go:build wireinject
// +build wireinject

package di

import (
	"IndexPull/pkg/config"
	"IndexPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Logging and metrics
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideHTTPClient,
		ProvideCacheService,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideQuoteStore,
		ProvidePublisher,
		ProvideUniverse,

		// Market data providers and selection
		ProvideAdapters,
		ProvideChain,
		ProvideSelector,
		ProvideCollector,

		// HTTP surface
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
