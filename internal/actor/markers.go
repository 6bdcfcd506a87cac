package actor

// InputBase marks a struct as an Input. Conversation commands (cmdOpen,
// cmdSend, ...) and runtime results (evHistoryLoaded, evSent, ...) embed it.
type InputBase struct{}

func (InputBase) isActorInput() {}

// EffectBase marks a struct as an Effect, e.g. a REST call or a room
// membership change the runtime should perform.
type EffectBase struct{}

func (EffectBase) isActorEffect() {}
