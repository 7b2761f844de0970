// Package registration provides the types exchanged by the discovery protocol.
//
// Every publisher and subscriber periodically broadcasts a registration
// Sample describing itself: its topic, data type, which transport layers it
// can read or has started writing, the connection parameters of those layers
// and a few statistics. Peers apply the samples they receive to build their
// view of the system; a publisher connects to a subscriber only after it has
// seen that subscriber's sample.
//
// The package defines:
//   - EntityID / TopicID: identity of one publisher or subscriber instance
//   - DataTypeInformation: the announced payload type
//   - Sample: the registration descriptor itself
//   - Provider: the sink that broadcasts samples
//   - SampleSource: entities that can describe themselves on demand
//
// Example usage:
//
//	// announce a publisher right away
//	provider.RegisterSample(pub.GetRegistrationSample())
//
//	// and withdraw it on shutdown
//	provider.UnregisterSample(pub.GetUnregistrationSample())
//
// Samples are plain values; the wire encoding lives in the registration
// provider implementation.
package registration
