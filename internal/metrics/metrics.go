// Package metrics keeps process-wide relay counters and exposes them to
// Prometheus and the status API.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Snapshot struct {
	MessagesReceived  int64                      `json:"messages_received"`
	MessagesSent      int64                      `json:"messages_sent"`
	BytesReceived     int64                      `json:"bytes_received"`
	BytesSent         int64                      `json:"bytes_sent"`
	EndpointsRunning  int64                      `json:"endpoints_running"`
	EndpointErrors    int64                      `json:"endpoint_errors"`
	EndpointRestarts  int64                      `json:"endpoint_restarts"`
	Deliveries        int64                      `json:"deliveries"`
	DeliveryErrors    int64                      `json:"delivery_errors"`
	FilteredEmpty     int64                      `json:"filtered_empty"`
	ConfigReloads     int64                      `json:"config_reloads"`
	UpdatedUnix       int64                      `json:"updated_unix"`
	Endpoints         map[string]EndpointTraffic `json:"endpoints,omitempty"`
	DeliveriesPerLink map[string]int64           `json:"deliveries_per_link,omitempty"`
}

// EndpointTraffic is the per-endpoint share of the totals.
type EndpointTraffic struct {
	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
	BytesReceived    int64 `json:"bytes_received"`
	BytesSent        int64 `json:"bytes_sent"`
	Errors           int64 `json:"errors"`
	Restarts         int64 `json:"restarts"`
}

type endpointCounters struct {
	rxMsgs, txMsgs   atomic.Int64
	rxBytes, txBytes atomic.Int64
	errors, restarts atomic.Int64
}

var (
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	bytesReceived    atomic.Int64
	bytesSent        atomic.Int64
	endpointsRunning atomic.Int64
	endpointErrors   atomic.Int64
	endpointRestarts atomic.Int64
	deliveries       atomic.Int64
	deliveryErrors   atomic.Int64
	filteredEmpty    atomic.Int64
	configReloads    atomic.Int64

	deliveryNanos atomic.Int64 // sum, for the average in text status

	endpointStats sync.Map // endpoint name -> *endpointCounters
	linkStats     sync.Map // link name -> *atomic.Int64
)

func endpoint(name string) *endpointCounters {
	v, ok := endpointStats.Load(name)
	if !ok {
		v, _ = endpointStats.LoadOrStore(name, &endpointCounters{})
	}
	return v.(*endpointCounters)
}

func AddReceived(endpointName string, n int) {
	messagesReceived.Add(1)
	bytesReceived.Add(int64(n))
	c := endpoint(endpointName)
	c.rxMsgs.Add(1)
	c.rxBytes.Add(int64(n))
}

func AddSent(endpointName string, n int) {
	messagesSent.Add(1)
	bytesSent.Add(int64(n))
	c := endpoint(endpointName)
	c.txMsgs.Add(1)
	c.txBytes.Add(int64(n))
}

func IncEndpointErrors(endpointName string) {
	endpointErrors.Add(1)
	endpoint(endpointName).errors.Add(1)
}

func IncEndpointRestarts(endpointName string) {
	endpointRestarts.Add(1)
	endpoint(endpointName).restarts.Add(1)
}

func IncEndpointsRunning() { endpointsRunning.Add(1) }
func DecEndpointsRunning() { endpointsRunning.Add(-1) }

// ObserveDelivery records one completed relay operation on a link.
func ObserveDelivery(linkName string, d time.Duration) {
	deliveries.Add(1)
	deliveryNanos.Add(d.Nanoseconds())
	deliveryHistogram.WithLabelValues(linkName).Observe(d.Seconds())
	v, ok := linkStats.Load(linkName)
	if !ok {
		v, _ = linkStats.LoadOrStore(linkName, &atomic.Int64{})
	}
	v.(*atomic.Int64).Add(1)
}

func IncDeliveryErrors() { deliveryErrors.Add(1) }
func IncFilteredEmpty() { filteredEmpty.Add(1) }
func IncConfigReloads() { configReloads.Add(1) }

// GetDeliveryAvgMs returns the mean relay duration in milliseconds.
func GetDeliveryAvgMs() float64 {
	n := deliveries.Load()
	if n == 0 {
		return 0
	}
	return float64(deliveryNanos.Load()) / float64(n) / 1e6
}

// EndpointNames lists every endpoint that has reported traffic, sorted.
func EndpointNames() []string {
	var out []string
	endpointStats.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

func SnapshotData() Snapshot {
	eps := make(map[string]EndpointTraffic)
	endpointStats.Range(func(k, v any) bool {
		c := v.(*endpointCounters)
		eps[k.(string)] = EndpointTraffic{
			MessagesReceived: c.rxMsgs.Load(),
			MessagesSent:     c.txMsgs.Load(),
			BytesReceived:    c.rxBytes.Load(),
			BytesSent:        c.txBytes.Load(),
			Errors:           c.errors.Load(),
			Restarts:         c.restarts.Load(),
		}
		return true
	})
	links := make(map[string]int64)
	linkStats.Range(func(k, v any) bool {
		links[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return Snapshot{
		MessagesReceived:  messagesReceived.Load(),
		MessagesSent:      messagesSent.Load(),
		BytesReceived:     bytesReceived.Load(),
		BytesSent:         bytesSent.Load(),
		EndpointsRunning:  endpointsRunning.Load(),
		EndpointErrors:    endpointErrors.Load(),
		EndpointRestarts:  endpointRestarts.Load(),
		Deliveries:        deliveries.Load(),
		DeliveryErrors:    deliveryErrors.Load(),
		FilteredEmpty:     filteredEmpty.Load(),
		ConfigReloads:     configReloads.Load(),
		UpdatedUnix:       time.Now().Unix(),
		Endpoints:         eps,
		DeliveriesPerLink: links,
	}
}
