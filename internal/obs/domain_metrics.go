package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingCalculationsTotal counts pricing calculations by outcome.
	PricingCalculationsTotal *prometheus.CounterVec
	// PricingLineItems records how many line items each calculation carried.
	PricingLineItems prometheus.Histogram
	// InventoryLookupTotal counts inventory lookups by outcome.
	InventoryLookupTotal *prometheus.CounterVec
	// InventoryLookupLatency records inventory lookup latency in milliseconds.
	InventoryLookupLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_calculations_total",
			Help:      "Count of pricing calculations by outcome.",
		}, []string{"result"})
		PricingLineItems = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_line_items",
			Help:      "Number of line items per pricing calculation.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		})
		InventoryLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_lookup_total",
			Help:      "Count of inventory product lookups by outcome.",
		}, []string{"result"})
		InventoryLookupLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inventory_lookup_duration_ms",
			Help:      "Latency for inventory product lookups in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		}, []string{"result"})

		mustRegisterCollector(reg, PricingCalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingCalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, PricingLineItems, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				PricingLineItems = v
			}
		})
		mustRegisterCollector(reg, InventoryLookupTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				InventoryLookupTotal = v
			}
		})
		mustRegisterCollector(reg, InventoryLookupLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				InventoryLookupLatency = v
			}
		})
	})
}

// ObservePricing records a pricing outcome. It is a no-op before registration.
func ObservePricing(result string, lines int) {
	if PricingCalculationsTotal != nil {
		PricingCalculationsTotal.WithLabelValues(result).Inc()
	}
	if PricingLineItems != nil && lines > 0 {
		PricingLineItems.Observe(float64(lines))
	}
}

// ObserveInventoryLookup records a lookup outcome. It is a no-op before registration.
func ObserveInventoryLookup(result string, millis float64) {
	if InventoryLookupTotal != nil {
		InventoryLookupTotal.WithLabelValues(result).Inc()
	}
	if InventoryLookupLatency != nil {
		InventoryLookupLatency.WithLabelValues(result).Observe(millis)
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
