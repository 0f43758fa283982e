package proxy

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"modelproxy/pkg/types"
)

// CollectSystemStats samples host CPU, memory and disk usage. It is the
// production stats source behind the system_stats cadence.
func CollectSystemStats(ctx context.Context) (types.SystemStats, error) {
	var stats types.SystemStats

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, err
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.Memory = types.UsageBlock{
		Total:   vm.Total,
		Used:    vm.Used,
		Free:    vm.Available,
		Percent: vm.UsedPercent,
	}

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return stats, err
	}
	stats.Disk = types.UsageBlock{
		Total:   du.Total,
		Used:    du.Used,
		Free:    du.Free,
		Percent: du.UsedPercent,
	}
	return stats, nil
}
