package retrieval

import "github.com/poiesic/folio/core"

// Monitor provides hooks to observe an Ask call.
// Implement this interface to track intermediate steps, for example in a CLI
// that prints what was retrieved.
type Monitor interface {
	Start(tenant core.TenantID, query string)
	AfterHistory(turns []core.Turn)
	AfterRewrite(rewritten string)
	AfterNearestChildren(matches []core.ChildMatch)
	AfterResolveParents(candidates []Candidate)
	Finish(answer *Answer)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.TenantID, _ string)          {}
func (n *noopMonitor) AfterHistory(_ []core.Turn)               {}
func (n *noopMonitor) AfterRewrite(_ string)                    {}
func (n *noopMonitor) AfterNearestChildren(_ []core.ChildMatch) {}
func (n *noopMonitor) AfterResolveParents(_ []Candidate)        {}
func (n *noopMonitor) Finish(_ *Answer)                         {}
