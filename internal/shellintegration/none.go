package shellintegration

// noneIntegration is selected for any shell tabminal doesn't recognize.
// No rc file is written and the shell is spawned plainly; per spec §4.2
// and the "prompt marker for unknown shells" open question, execution
// records are simply unavailable for that session — nothing is
// synthesized to fake them.
type noneIntegration struct{}

func (noneIntegration) Name() string                    { return "none" }
func (noneIntegration) Script() string                  { return "" }
func (noneIntegration) Args(string) ([]string, []string) { return nil, nil }
