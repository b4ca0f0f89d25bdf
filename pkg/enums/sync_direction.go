package enums

// SyncDirection labels which way a replication cycle moves rows.
type SyncDirection string

const (
	// SyncDirectionUpstream pushes venue-authoritative rows to the cloud.
	SyncDirectionUpstream SyncDirection = "upstream"
	// SyncDirectionDownstream pulls cloud-authoritative rows to the venue.
	SyncDirectionDownstream SyncDirection = "downstream"
)

// String implements fmt.Stringer.
func (d SyncDirection) String() string {
	return string(d)
}
