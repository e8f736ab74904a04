package metrics

import (
	"context"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/fx"
)

const (
	ServiceName       = "tronrpc"
	reportingInterval = time.Second
)

type MetricParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Reporter  tally.StatsReporter `optional:"true"`
}

var Module = fx.Options(
	fx.Provide(NewRootScope),
)

func NewRootScope(params MetricParams) tally.Scope {
	reporter := params.Reporter
	if reporter == nil {
		reporter = tally.NullStatsReporter
	}

	opts := tally.ScopeOptions{
		Prefix:   ServiceName,
		Reporter: reporter,
	}
	scope, closer := tally.NewRootScope(opts, reportingInterval)
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return closer.Close()
		},
	})

	return scope
}
