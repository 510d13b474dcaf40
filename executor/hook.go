package executor

// HookPos names a point in the executor's processing where an observer can
// be invoked. Grounded on akita's sim.HookPos/Hookable pattern: hooks are a
// passive tap, never part of the control flow they observe.
type HookPos struct {
	Name string
}

var (
	// HookPosBeforeCallback fires immediately before a due callback runs.
	HookPosBeforeCallback = &HookPos{Name: "BeforeCallback"}
	// HookPosAfterCallback fires immediately after a due callback returns.
	HookPosAfterCallback = &HookPos{Name: "AfterCallback"}
)

// HookCtx carries the information passed to a Hook.Func invocation.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
}

// Hookable marks a component that accepts passive observers.
type Hookable interface {
	AcceptHook(hook Hook)
}

// Hook is a short piece of program invoked by a Hookable at specific
// positions. Hooks must not mutate the domain they observe.
type Hook interface {
	Func(ctx HookCtx)
}

// HookableBase provides a default Hookable implementation for embedding.
type HookableBase struct {
	hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

// NumHooks returns how many hooks are registered, so callers can skip
// building a HookCtx on the hot path when nobody is listening.
func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

// InvokeHook runs every registered hook with ctx.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
