package repository

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithSeed sets the seed of the node priority function. Any seed yields the
// same ordering; only the tree shape differs.
func WithSeed(seed uint64) Option {
	return func(s *TreapStore) {
		s.seed = seed
	}
}
