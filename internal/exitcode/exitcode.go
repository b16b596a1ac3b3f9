package exitcode

const (
	Success           = 0
	UsageError        = 1
	InputError        = 2
	DBConnError       = 3
	SinkError         = 4
	TransformError    = 5
	ReconcileMismatch = 6
)
