package monitors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/praetor-io/watchtower/pkg/types"
)

// SystemProber scrapes a node-exporter endpoint and derives the flat
// system metric map. Rates over time (per-second network throughput,
// disk io in interval) are NOT computed here: monitors are stateless, so
// only cumulative totals go on the wire and the transformer derives the
// rates from consecutive rounds.
type SystemProber struct {
	url    string
	client *http.Client
}

// NewSystemProber builds a prober for one node-exporter URL.
func NewSystemProber(rawURL string) *SystemProber {
	return &SystemProber{
		url:    rawURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Probe scrapes the endpoint once.
func (p *SystemProber) Probe(ctx context.Context) (map[string]*float64, error) {
	u, err := url.Parse(p.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ProbeError{Code: types.CodeInvalidURL, Message: fmt.Sprintf("invalid node exporter url %q", p.url)}
	}

	families, err := ScrapeMetrics(ctx, p.client, p.url)
	if err != nil {
		return nil, err
	}
	return deriveSystemMetrics(families)
}

func deriveSystemMetrics(families map[string]*dto.MetricFamily) (map[string]*float64, error) {
	out := map[string]*float64{}

	need := func(name string, v float64, ok bool) error {
		if !ok {
			return &ProbeError{Code: types.CodeMetricNotFound, Message: fmt.Sprintf("metric %s not found", name)}
		}
		out[name] = types.Float(v)
		return nil
	}

	v, ok := firstValue(families, "process_cpu_seconds_total")
	if err := need(types.MetricProcessCPUSecondsTotal, v, ok); err != nil {
		return nil, err
	}
	v, ok = firstValue(families, "process_virtual_memory_bytes")
	if err := need(types.MetricVirtualMemoryUsage, v, ok); err != nil {
		return nil, err
	}

	resident, ok1 := firstValue(families, "process_resident_memory_bytes")
	memTotal, ok2 := firstValue(families, "node_memory_MemTotal_bytes")
	if err := need(types.MetricProcessMemoryUsage, percentage(resident, memTotal), ok1 && ok2); err != nil {
		return nil, err
	}

	openFDs, ok := firstValue(families, "process_open_fds")
	maxFDs, okMax := firstValue(families, "process_max_fds")
	if err := need(types.MetricOpenFileDescriptors, percentage(openFDs, maxFDs), ok && okMax); err != nil {
		return nil, err
	}

	idle, okIdle := sumWhere(families, "node_cpu_seconds_total", func(m *dto.Metric) bool {
		return labelValue(m, "mode") == "idle"
	})
	total, okTotal := sumWhere(families, "node_cpu_seconds_total", nil)
	if err := need(types.MetricSystemCPUUsage, percentage(total-idle, total), okIdle && okTotal); err != nil {
		return nil, err
	}

	memAvail, ok := firstValue(families, "node_memory_MemAvailable_bytes")
	if err := need(types.MetricSystemRAMUsage, percentage(memTotal-memAvail, memTotal), ok); err != nil {
		return nil, err
	}

	rootOnly := func(m *dto.Metric) bool { return labelValue(m, "mountpoint") == "/" }
	fsSize, ok1 := sumWhere(families, "node_filesystem_size_bytes", rootOnly)
	fsAvail, ok2 := sumWhere(families, "node_filesystem_avail_bytes", rootOnly)
	if err := need(types.MetricSystemStorageUsage, percentage(fsSize-fsAvail, fsSize), ok1 && ok2); err != nil {
		return nil, err
	}

	physicalOnly := func(m *dto.Metric) bool { return labelValue(m, "device") != "lo" }
	tx, ok := sumWhere(families, "node_network_transmit_bytes_total", physicalOnly)
	if err := need(types.MetricNetworkTransmitBytesTotal, tx, ok); err != nil {
		return nil, err
	}
	rx, ok := sumWhere(families, "node_network_receive_bytes_total", physicalOnly)
	if err := need(types.MetricNetworkReceiveBytesTotal, rx, ok); err != nil {
		return nil, err
	}

	ioTime, ok := sumWhere(families, "node_disk_io_time_seconds_total", nil)
	if err := need(types.MetricDiskIOTimeSecondsTotal, ioTime, ok); err != nil {
		return nil, err
	}

	return out, nil
}

func percentage(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}
