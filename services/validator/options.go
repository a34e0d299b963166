package validator

type Options struct {
	skipScripts bool
}

// Option is a function that sets some option on the Options struct
type Option func(*Options)

func NewDefaultOptions() *Options {
	return &Options{}
}

func ProcessOptions(opts ...Option) *Options {
	options := NewDefaultOptions()
	for _, o := range opts {
		o(options)
	}

	return options
}

// WithSkipScripts leaves script verification out of CheckInputs, used for
// blocks below the last checkpoint.
func WithSkipScripts(skip bool) Option {
	return func(o *Options) {
		o.skipScripts = skip
	}
}
