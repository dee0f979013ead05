package di

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *Clock { return &Clock{} },
//	    func(clock *Clock) *Service { return &Service{Clock: clock} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	providers []any
}
