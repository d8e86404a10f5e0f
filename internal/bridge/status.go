package bridge

import (
	"sort"
	"time"

	"llamabridge/pkg/types"
)

// Status builds a detailed status report.
func (b *Bridge) Status() types.StatusResponse {
	b.mu.RLock()
	defer b.mu.RUnlock()
	resp := types.StatusResponse{
		State:         string(b.state),
		Engine:        b.engine.Name(),
		ActiveHandle:  int64(b.active),
		BudgetMB:      b.cfg.BudgetMB,
		UsedMB:        b.usedEstMB,
		MarginMB:      b.cfg.MarginMB,
		UptimeSeconds: int64(time.Since(b.startTime) / time.Second),
		Error:         b.err,
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(b.instances))
	for _, inst := range b.instances {
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			Handle:        int64(inst.Handle),
			Path:          inst.Path,
			Name:          inst.Meta.Name(),
			State:         string(inst.State),
			Active:        inst.Handle == b.active,
			LastUsed:      inst.LastUsed.Unix(),
			EstMemoryMB:   inst.EstMB,
			QueueLen:      len(inst.queueCh),
			Inflight:      len(inst.genCh),
			MaxQueueDepth: cap(inst.queueCh),
		})
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].Handle < resp.Instances[j].Handle })
	return resp
}
