package main

import (
	"context"

	"github.com/icco/numduel"
	"github.com/icco/numduel/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	roomActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numduel_room_actions_total",
			Help: "Room operations by action and outcome kind",
		},
		[]string{"action", "result"},
	)

	roomsFinished metric.Int64Counter
)

func init() {
	prometheus.MustRegister(roomActions)
}

// setupTelemetry exports otel metrics through the default prometheus
// registry, next to the counters above.
func setupTelemetry() (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	roomsFinished, err = provider.Meter(numduel.ServiceName).Int64Counter(
		"numduel.rooms.finished",
		metric.WithDescription("Rooms that reached a result"),
	)
	if err != nil {
		return nil, err
	}

	return provider, nil
}

func recordAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = string(numduel.Kind(err))
	}
	roomActions.WithLabelValues(action, result).Inc()
}

// finishCounter records stats through the store and counts each room the
// store stamps.
type finishCounter struct {
	store *store.Store
}

func (f finishCounter) FinalizeRoom(ctx context.Context, code string) error {
	room, err := f.store.Finalize(ctx, code)
	if err != nil {
		return err
	}
	recordFinished(ctx, room)
	return nil
}

func recordFinished(ctx context.Context, room *numduel.Room) {
	if roomsFinished == nil || room == nil {
		return
	}
	roomsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("winner", string(room.Winner)),
		attribute.Int("guesses", len(room.Seat(numduel.PlayerOne).Guesses)+len(room.Seat(numduel.PlayerTwo).Guesses)),
	))
}
