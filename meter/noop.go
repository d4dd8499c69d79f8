package meter

import "github.com/lexgate/llmgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ llmgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAdmission(llmgate.AdmissionEvent) {}
func (m *NoopMeter) OnDispatch(llmgate.DispatchEvent)   {}
func (m *NoopMeter) OnResult(llmgate.ResultEvent)       {}
