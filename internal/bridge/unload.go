package bridge

// Unload drains and frees the model identified by h (0 = active). Queued
// generations get DrainTimeout to finish before they are canceled.
func (b *Bridge) Unload(h Handle) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if err := b.checkInitializedLocked(opUnload); err != nil {
		b.mu.Unlock()
		return err
	}
	if h == 0 {
		h = b.active
		if h == 0 {
			b.mu.Unlock()
			return errorf(opUnload, KindNoModel, "no model loaded")
		}
	}
	inst := b.detachLocked(h)
	loaded := len(b.instances)
	b.mu.Unlock()
	if inst == nil {
		return errorf(opUnload, KindInvalidHandle, "unknown or released handle %d", h)
	}
	b.metrics.SetModelsLoaded(loaded)
	b.publisher.Publish(Event{Name: "unload_start", Handle: h})

	b.retire(inst)

	b.log.Info().Int64("handle", int64(h)).Msg("model unloaded")
	b.publisher.Publish(Event{Name: "unload_done", Handle: h})
	return nil
}
