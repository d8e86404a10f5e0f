package bridge

import "sort"

// planEviction picks idle instances, least recently used first, whose removal
// lets reqMB fit within the budget. Nothing is detached here: the caller frees
// the victims only once the replacement has loaded, so a failed load leaves
// every resident model in place. The active model counts as reclaimable when
// the next load will supersede it anyway.
func (b *Bridge) planEviction(reqMB int) ([]Handle, error) {
	if b.cfg.BudgetMB <= 0 {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	used := b.usedEstMB
	if !b.cfg.KeepSuperseded {
		if a := b.instances[b.active]; a != nil {
			used -= a.EstMB
		}
	}
	fits := func() bool { return used+reqMB+b.cfg.MarginMB <= b.cfg.BudgetMB }
	if fits() {
		return nil, nil
	}

	var idle []*Instance
	if b.cfg.KeepSuperseded {
		for _, inst := range b.instances {
			if len(inst.genCh) > 0 || len(inst.queueCh) > 0 {
				continue
			}
			idle = append(idle, inst)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastUsed.Before(idle[j].LastUsed) })

	var victims []Handle
	for _, inst := range idle {
		if fits() {
			break
		}
		victims = append(victims, inst.Handle)
		used -= inst.EstMB
	}
	if !fits() {
		return nil, errorf(opLoad, KindOutOfMemory, "model needs ~%dMB, budget %dMB (used %dMB, margin %dMB)", reqMB, b.cfg.BudgetMB, b.usedEstMB, b.cfg.MarginMB)
	}
	return victims, nil
}

// evict retires instances detached by a committed load.
func (b *Bridge) evict(victims []*Instance) {
	for _, inst := range victims {
		b.retire(inst)
		b.log.Info().Int64("handle", int64(inst.Handle)).Int("freed_mb", inst.EstMB).Msg("evicted")
		b.publisher.Publish(Event{Name: "evict", Handle: inst.Handle, Fields: map[string]any{"est_mb": inst.EstMB}})
	}
}
