// README: Member reference model owned by the membership subsystem.
package member

import "unipool/internal/types"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Member is the slice of the account record the party domain needs.
// TotalSavedAmount and PartyCreateCount are monotonically non-decreasing and
// only the lifecycle engine and the async counter task touch them.
type Member struct {
	ID               types.ID
	Nickname         string
	Gender           Gender
	TotalSavedAmount int64
	PartyCreateCount int
}
