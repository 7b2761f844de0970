package registration

// Provider broadcasts registration samples to the process group.
// Both calls are fire-and-forget.
type Provider interface {
	// RegisterSample announces (or refreshes) an entity right away
	RegisterSample(sample Sample)

	// UnregisterSample withdraws an entity right away
	UnregisterSample(sample Sample)
}

// SampleSource is an entity that can describe itself on demand.
// The provider polls its sources on every refresh cycle.
type SampleSource interface {
	RegistrationSamples() []Sample
}

// SampleHandler consumes received samples
type SampleHandler func(sample Sample)
