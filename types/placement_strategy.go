package types

// PlacementStrategy chooses members for new primary and backup copies.
//
// Strategies are consulted by the ownership coordinator during ordinary
// placement. They never mutate ownership themselves and must be deterministic
// for a given input so that placement is reproducible in tests.
type PlacementStrategy interface {
	// PlacePrimary selects a primary for an orphaned partition.
	//
	// Parameters:
	//   - partition: Partition id
	//   - candidates: Eligible members not holding a copy, sorted by id (non-empty)
	//   - load: Copies currently held per member
	//
	// Returns:
	//   - MemberID: Selected member
	//   - error: ErrNoEligibleMember if nothing can be chosen
	PlacePrimary(partition int, candidates []Member, load map[MemberID]int) (MemberID, error)

	// PlaceBackup selects a member for an empty backup slot.
	//
	// Parameters:
	//   - partition: Partition id
	//   - holders: Live members already holding a copy
	//   - candidates: Eligible members not holding a copy, sorted by id (non-empty)
	//   - load: Copies currently held per member
	//
	// Returns:
	//   - MemberID: Selected member
	//   - error: ErrNoEligibleMember if nothing can be chosen
	PlaceBackup(partition int, holders []Member, candidates []Member, load map[MemberID]int) (MemberID, error)
}
