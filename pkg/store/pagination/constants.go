package pagination

const (
	// DefaultPageSize is the number of rows fetched per page
	DefaultPageSize = 1000

	// MaxPageSize is the store's per-query row limit
	MaxPageSize = 1000

	// DefaultParallelism is the worker pool width for converting one page
	DefaultParallelism = 8

	// AdminDefaultLimit is the default row limit of the admin scan endpoint
	AdminDefaultLimit = 100
)
