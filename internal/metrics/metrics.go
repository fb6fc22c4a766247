// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes a Prometheus scrape endpoint for the engine's
// claim/advance loop, backed by an OpenTelemetry meter the way the
// teacher wires its own workflow metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the meter provider backing Collector and the Prometheus
// scrape handler.
type Provider struct {
	mp         *sdkmetric.MeterProvider
	collector  *Collector
}

// NewProvider creates a meter provider exported through a Prometheus
// registry, and the Collector of engine-specific instruments on it.
func NewProvider(serviceName string) (*Provider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: creating prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	collector, err := newCollector(mp.Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("metrics: creating collector: %w", err)
	}
	return &Provider{mp: mp, collector: collector}, nil
}

// Collector returns the instrument set for recording engine events.
func (p *Provider) Collector() *Collector { return p.collector }

// Handler returns the HTTP handler serving the Prometheus scrape
// endpoint; the OTel Prometheus exporter registers with the default
// registry, so promhttp.Handler serves it directly.
func (p *Provider) Handler() http.Handler { return promhttp.Handler() }

// Shutdown releases the meter provider's resources.
func (p *Provider) Shutdown(ctx context.Context) error { return p.mp.Shutdown(ctx) }

// Collector records counts and durations for the scheduler's claim/
// advance loop and the worker's dispatch loop.
type Collector struct {
	stepsClaimed   metric.Int64Counter
	stepsCompleted metric.Int64Counter
	stepsFailed    metric.Int64Counter
	stepsRetried   metric.Int64Counter
	stepDuration   metric.Float64Histogram
	workersActive  metric.Int64UpDownCounter
}

func newCollector(meter metric.Meter) (*Collector, error) {
	var c Collector
	var err error

	if c.stepsClaimed, err = meter.Int64Counter(
		"ingester_steps_claimed_total",
		metric.WithDescription("RunSteps claimed by a worker"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if c.stepsCompleted, err = meter.Int64Counter(
		"ingester_steps_completed_total",
		metric.WithDescription("RunSteps that completed successfully"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if c.stepsFailed, err = meter.Int64Counter(
		"ingester_steps_failed_total",
		metric.WithDescription("RunSteps that failed permanently"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if c.stepsRetried, err = meter.Int64Counter(
		"ingester_steps_retried_total",
		metric.WithDescription("RunSteps returned to PENDING for retry"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if c.stepDuration, err = meter.Float64Histogram(
		"ingester_step_duration_seconds",
		metric.WithDescription("Wall-clock time a RunStep spent RUNNING"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if c.workersActive, err = meter.Int64UpDownCounter(
		"ingester_workers_active",
		metric.WithDescription("Worker processes currently checked in"),
		metric.WithUnit("{worker}"),
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Collector) StepClaimed(ctx context.Context, handlerRef string) {
	c.stepsClaimed.Add(ctx, 1, metric.WithAttributes(handlerRefAttr(handlerRef)))
}

func (c *Collector) StepCompleted(ctx context.Context, handlerRef string, duration float64) {
	c.stepsCompleted.Add(ctx, 1, metric.WithAttributes(handlerRefAttr(handlerRef)))
	c.stepDuration.Record(ctx, duration, metric.WithAttributes(handlerRefAttr(handlerRef)))
}

func (c *Collector) StepRetried(ctx context.Context, handlerRef string) {
	c.stepsRetried.Add(ctx, 1, metric.WithAttributes(handlerRefAttr(handlerRef)))
}

func (c *Collector) StepFailed(ctx context.Context, handlerRef string, duration float64) {
	c.stepsFailed.Add(ctx, 1, metric.WithAttributes(handlerRefAttr(handlerRef)))
	c.stepDuration.Record(ctx, duration, metric.WithAttributes(handlerRefAttr(handlerRef)))
}

func (c *Collector) WorkerJoined(ctx context.Context) { c.workersActive.Add(ctx, 1) }

func (c *Collector) WorkerLeft(ctx context.Context) { c.workersActive.Add(ctx, -1) }

func handlerRefAttr(ref string) attribute.KeyValue {
	return attribute.String("handler_ref", ref)
}
