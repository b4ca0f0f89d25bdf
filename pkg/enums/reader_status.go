package enums

// ReaderStatus reflects whether a physical payment device may accept new
// transactions.
type ReaderStatus string

const (
	ReaderStatusHealthy  ReaderStatus = "healthy"
	ReaderStatusDegraded ReaderStatus = "degraded"
)

// String implements fmt.Stringer.
func (s ReaderStatus) String() string {
	return string(s)
}
