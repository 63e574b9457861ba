// bundlefx/bundlefx.go
package bundlefx

import (
	"go.uber.org/fx"

	"github.com/joeydtaylor/keystone-core/pkg/config"
	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/auth"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/logger"
	"github.com/joeydtaylor/keystone-core/pkg/middleware/metrics"
)

// Module provided to fx
var Module = fx.Options(
	config.Module,
	keycloak.Module,
	auth.Module,
	logger.Module,
	metrics.Module,
)
