package actor

// Step runs reducer once and returns what the actor loop would hand to its
// runtime. Nothing is executed, so reducer tables can assert on effects
// directly.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}
