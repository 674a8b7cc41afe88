package types

// Metric field names shared by the system monitor, transformer, store
// and alerter.
const (
	MetricProcessCPUSecondsTotal    = "process_cpu_seconds_total"
	MetricProcessMemoryUsage        = "process_memory_usage"
	MetricVirtualMemoryUsage        = "virtual_memory_usage"
	MetricOpenFileDescriptors       = "open_file_descriptors"
	MetricSystemCPUUsage            = "system_cpu_usage"
	MetricSystemRAMUsage            = "system_ram_usage"
	MetricSystemStorageUsage        = "system_storage_usage"
	MetricNetworkTransmitBytesTotal = "network_transmit_bytes_total"
	MetricNetworkReceiveBytesTotal  = "network_receive_bytes_total"
	MetricNetworkTransmitPerSecond  = "network_transmit_bytes_per_second"
	MetricNetworkReceivePerSecond   = "network_receive_bytes_per_second"
	MetricDiskIOTimeSecondsTotal    = "disk_io_time_seconds_total"
	MetricDiskIOTimeInInterval      = "disk_io_time_seconds_in_interval"
	MetricWentDownAt                = "went_down_at"
	MetricLastMonitored             = "last_monitored"
)

// SystemState is the per-system state record owned by the system
// transformer. All fields are optional: nil means never observed. The
// record is persisted write-through to the store after every update.
type SystemState struct {
	ProcessCPUSecondsTotal    *float64
	ProcessMemoryUsage        *float64
	VirtualMemoryUsage        *float64
	OpenFileDescriptors       *float64
	SystemCPUUsage            *float64
	SystemRAMUsage            *float64
	SystemStorageUsage        *float64
	NetworkTransmitBytesTotal *float64
	NetworkReceiveBytesTotal  *float64
	NetworkTransmitPerSecond  *float64
	NetworkReceivePerSecond   *float64
	DiskIOTimeSecondsTotal    *float64
	DiskIOTimeInInterval      *float64
	WentDownAt                *float64
	LastMonitored             *float64
}

// Flat returns the state as a field map in the store-stream shape.
func (s *SystemState) Flat() map[string]*float64 {
	return map[string]*float64{
		MetricProcessCPUSecondsTotal:    s.ProcessCPUSecondsTotal,
		MetricProcessMemoryUsage:        s.ProcessMemoryUsage,
		MetricVirtualMemoryUsage:        s.VirtualMemoryUsage,
		MetricOpenFileDescriptors:       s.OpenFileDescriptors,
		MetricSystemCPUUsage:            s.SystemCPUUsage,
		MetricSystemRAMUsage:            s.SystemRAMUsage,
		MetricSystemStorageUsage:        s.SystemStorageUsage,
		MetricNetworkTransmitBytesTotal: s.NetworkTransmitBytesTotal,
		MetricNetworkReceiveBytesTotal:  s.NetworkReceiveBytesTotal,
		MetricNetworkTransmitPerSecond:  s.NetworkTransmitPerSecond,
		MetricNetworkReceivePerSecond:   s.NetworkReceivePerSecond,
		MetricDiskIOTimeSecondsTotal:    s.DiskIOTimeSecondsTotal,
		MetricDiskIOTimeInInterval:      s.DiskIOTimeInInterval,
		MetricWentDownAt:                s.WentDownAt,
	}
}

// SetField assigns one flat field by name. Unknown names are ignored so
// state hydration tolerates fields added by newer monitors.
func (s *SystemState) SetField(name string, value *float64) {
	switch name {
	case MetricProcessCPUSecondsTotal:
		s.ProcessCPUSecondsTotal = value
	case MetricProcessMemoryUsage:
		s.ProcessMemoryUsage = value
	case MetricVirtualMemoryUsage:
		s.VirtualMemoryUsage = value
	case MetricOpenFileDescriptors:
		s.OpenFileDescriptors = value
	case MetricSystemCPUUsage:
		s.SystemCPUUsage = value
	case MetricSystemRAMUsage:
		s.SystemRAMUsage = value
	case MetricSystemStorageUsage:
		s.SystemStorageUsage = value
	case MetricNetworkTransmitBytesTotal:
		s.NetworkTransmitBytesTotal = value
	case MetricNetworkReceiveBytesTotal:
		s.NetworkReceiveBytesTotal = value
	case MetricNetworkTransmitPerSecond:
		s.NetworkTransmitPerSecond = value
	case MetricNetworkReceivePerSecond:
		s.NetworkReceivePerSecond = value
	case MetricDiskIOTimeSecondsTotal:
		s.DiskIOTimeSecondsTotal = value
	case MetricDiskIOTimeInInterval:
		s.DiskIOTimeInInterval = value
	case MetricWentDownAt:
		s.WentDownAt = value
	case MetricLastMonitored:
		s.LastMonitored = value
	}
}

// RepoState is the per-repository state record shared by the github and
// dockerhub transformers.
type RepoState struct {
	NoOfReleases  *float64
	LastMonitored *float64
}

const MetricNoOfReleases = "no_of_releases"

// Flat returns the state as a field map in the store-stream shape.
func (r *RepoState) Flat() map[string]*float64 {
	return map[string]*float64{
		MetricNoOfReleases: r.NoOfReleases,
	}
}
