package postgres

import "github.com/kozaktomas/memento/internal/database"

// Store bundles the identity repositories sharing one pool.
type Store struct {
	*ProfileRepository
	*EventRepository
	*MembershipRepository
	*ConsentRepository
	*FaceDirectoryRepository
}

// NewStore creates every identity repository on pool
func NewStore(pool *Pool) *Store {
	return &Store{
		ProfileRepository:       NewProfileRepository(pool),
		EventRepository:         NewEventRepository(pool),
		MembershipRepository:    NewMembershipRepository(pool),
		ConsentRepository:       NewConsentRepository(pool),
		FaceDirectoryRepository: NewFaceDirectoryRepository(pool),
	}
}

var (
	_ database.IdentityReader      = (*Store)(nil)
	_ database.ProfileWriter       = (*Store)(nil)
	_ database.EventWriter         = (*Store)(nil)
	_ database.MembershipWriter    = (*Store)(nil)
	_ database.ConsentWriter       = (*Store)(nil)
	_ database.FaceDirectoryWriter = (*Store)(nil)
)
