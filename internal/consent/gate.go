// Package consent decides whether one attendee may see another within an event
// and records the per-event opt-in flags that drive that decision.
package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/database"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonSelf              Reason = "SELF"
	ReasonAllowed           Reason = "ALLOWED"
	ReasonNotAMember        Reason = "NOT_A_MEMBER"
	ReasonSubjectNotInEvent Reason = "SUBJECT_NOT_IN_EVENT"
	ReasonNotConsented      Reason = "NOT_CONSENTED"
)

// ErrUnknownCapability is returned for capabilities the gate does not know.
var ErrUnknownCapability = errors.New("unknown capability")

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allowed: false, Reason: r} }

// Gate authorizes requester/subject pairs against the identity store.
// Every call reads the store again; nothing is cached between calls, so a
// revocation is visible to the next check after it commits.
type Gate struct {
	store database.IdentityReader
}

// NewGate creates a gate reading from store
func NewGate(store database.IdentityReader) *Gate {
	return &Gate{store: store}
}

// Authorize decides whether requester may use capability on subject within eventID.
func (g *Gate) Authorize(ctx context.Context, requester, subject, eventID uuid.UUID, capability database.Capability) (Decision, error) {
	decisions, err := g.AuthorizeEach(ctx, requester, subject, eventID, capability)
	if err != nil {
		return Decision{}, err
	}
	return decisions[capability], nil
}

// AuthorizeEach decides several capabilities for the same pair with a single
// read of memberships and consent. Each decision is the one Authorize would
// return on its own.
func (g *Gate) AuthorizeEach(
	ctx context.Context, requester, subject, eventID uuid.UUID, capabilities ...database.Capability,
) (map[database.Capability]Decision, error) {
	for _, c := range capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, c)
		}
	}

	out := make(map[database.Capability]Decision, len(capabilities))
	fill := func(d Decision) map[database.Capability]Decision {
		for _, c := range capabilities {
			out[c] = d
		}
		return out
	}

	if requester == subject {
		return fill(allow(ReasonSelf)), nil
	}

	m, err := g.store.GetMembership(ctx, eventID, requester)
	if err != nil {
		return nil, fmt.Errorf("get requester membership: %w", err)
	}
	if m == nil {
		return fill(deny(ReasonNotAMember)), nil
	}

	return g.subjectDecisions(ctx, subject, eventID, capabilities)
}

// SubjectConsents evaluates the subject side of Authorize on its own: the
// subject must be a member of eventID and must currently consent to
// capability. Enrollment uses it, since a self request always passes
// Authorize.
func (g *Gate) SubjectConsents(ctx context.Context, subject, eventID uuid.UUID, capability database.Capability) (Decision, error) {
	if !capability.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}
	decisions, err := g.subjectDecisions(ctx, subject, eventID, []database.Capability{capability})
	if err != nil {
		return Decision{}, err
	}
	return decisions[capability], nil
}

func (g *Gate) subjectDecisions(
	ctx context.Context, subject, eventID uuid.UUID, capabilities []database.Capability,
) (map[database.Capability]Decision, error) {
	out := make(map[database.Capability]Decision, len(capabilities))

	m, err := g.store.GetMembership(ctx, eventID, subject)
	if err != nil {
		return nil, fmt.Errorf("get subject membership: %w", err)
	}
	if m == nil {
		for _, c := range capabilities {
			out[c] = deny(ReasonSubjectNotInEvent)
		}
		return out, nil
	}

	c, err := g.store.GetConsent(ctx, eventID, subject)
	if err != nil {
		return nil, fmt.Errorf("get subject consent: %w", err)
	}
	for _, capability := range capabilities {
		if c.Allows(capability) {
			out[capability] = allow(ReasonAllowed)
		} else {
			out[capability] = deny(ReasonNotConsented)
		}
	}
	return out, nil
}
