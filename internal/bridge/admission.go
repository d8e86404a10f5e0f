package bridge

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot of
// inst. It returns a release func to be deferred.
func (b *Bridge) beginGeneration(ctx context.Context, inst *Instance) (func(), error) {
	wait := time.NewTimer(b.cfg.MaxWait)
	defer wait.Stop()

	select {
	case inst.queueCh <- struct{}{}:
	case <-ctx.Done():
		return nil, newError(opGenerate, KindGenerationFailed, ctx.Err())
	case <-inst.ctx.Done():
		return nil, errorf(opGenerate, KindInvalidHandle, "handle %d was released", inst.Handle)
	case <-wait.C:
		return nil, errorf(opGenerate, KindTooBusy, "queue full for handle %d", inst.Handle)
	}

	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	select {
	case inst.genCh <- struct{}{}:
	case <-ctx.Done():
		return nil, newError(opGenerate, KindGenerationFailed, ctx.Err())
	case <-inst.ctx.Done():
		return nil, errorf(opGenerate, KindInvalidHandle, "handle %d was released", inst.Handle)
	case <-wait.C:
		return nil, errorf(opGenerate, KindTooBusy, "timed out waiting for handle %d", inst.Handle)
	}
	if inst.retired.Load() {
		<-inst.genCh
		return nil, errorf(opGenerate, KindInvalidHandle, "handle %d was released", inst.Handle)
	}
	acquired = true

	b.mu.Lock()
	inst.LastUsed = time.Now()
	b.mu.Unlock()
	return func() { <-inst.genCh; <-inst.queueCh }, nil
}
