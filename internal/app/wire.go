//go:build wireinject
// +build wireinject

package app

import (
	"github.com/amaumene/yggsync/internal/config"
	"github.com/google/wire"
)

// InitializeApp builds the application. The returned cleanup closes the
// database; call App.Shutdown first.
func InitializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
