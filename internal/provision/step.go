package provision

// Step identifies a milestone in the provisioning sequence. Steps are
// strictly ordered; the orchestrator records each one it passes so a
// failure report can say exactly how far the guest got.
type Step int

const (
	StepVMStarted Step = iota
	StepBootMenuSelected
	StepBooted
	StepLoginPrompted
	StepLoggedIn
	StepNetworkConfigured
	StepPasswordless
	StepReady
)

func (s Step) String() string {
	switch s {
	case StepVMStarted:
		return "vm-started"
	case StepBootMenuSelected:
		return "boot-menu-selected"
	case StepBooted:
		return "booted"
	case StepLoginPrompted:
		return "login-prompted"
	case StepLoggedIn:
		return "logged-in"
	case StepNetworkConfigured:
		return "network-configured"
	case StepPasswordless:
		return "passwordless"
	case StepReady:
		return "ready"
	default:
		return "unknown"
	}
}
