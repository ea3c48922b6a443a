package context

type Key string

const (
	Actor  Key = "actor"
	Params Key = "params"
)
