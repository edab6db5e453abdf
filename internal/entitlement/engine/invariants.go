package engine

import (
	"fmt"
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

// Rule identifies an entitlement invariant.
type Rule string

const (
	RulePremiumAfterExpiry         Rule = "premium_after_expiry"
	RuleCancelledRevokedEarly      Rule = "cancelled_revoked_early"
	RuleUnexplainedRevocation      Rule = "unexplained_revocation"
	RuleExpiryShortenedWithoutDate Rule = "expiry_shortened_without_date"
	RuleExpiryNotDerived           Rule = "expiry_not_derived"
	RuleRepeatApplicationWrote     Rule = "repeat_application_wrote"
)

type Violation struct {
	Rule   Rule
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

// CheckState validates the invariants that must hold for a persisted record
// at instant now.
func CheckState(rec domain.Record, now time.Time) []Violation {
	var out []Violation
	expired := rec.ExpiresAt != nil && now.After(*rec.ExpiresAt)

	if expired && rec.IsPremium {
		out = append(out, Violation{
			Rule:   RulePremiumAfterExpiry,
			Detail: fmt.Sprintf("user %s is premium but expiry %s has passed", rec.UserID, rec.ExpiresAt.Format(time.RFC3339)),
		})
	}
	if rec.Status == domain.StatusCancelled && rec.ExpiresAt != nil && now.Before(*rec.ExpiresAt) && !rec.IsPremium {
		out = append(out, Violation{
			Rule:   RuleCancelledRevokedEarly,
			Detail: fmt.Sprintf("user %s lost access before expiry %s", rec.UserID, rec.ExpiresAt.Format(time.RFC3339)),
		})
	}
	if !rec.IsPremium && rec.Status != domain.StatusExpired && !expired && rec.SubscriptionID != nil {
		out = append(out, Violation{
			Rule:   RuleUnexplainedRevocation,
			Detail: fmt.Sprintf("user %s is not premium with status %s and subscription %s", rec.UserID, rec.Status, *rec.SubscriptionID),
		})
	}
	return out
}

// CheckTransition validates a decision applied to prev under snap.
func CheckTransition(prev domain.Record, snap domain.Snapshot, d Decision, now time.Time, policy Policy) []Violation {
	policy = policy.withDefaults()
	now = now.UTC()
	next := d.State
	out := CheckState(next, now)

	status := ResolveStatus(snap)
	resolved := ResolveExpiry(snap, now, policy.FallbackDuration)
	if resolved.Source == ExpiryFromFallback && status != domain.StatusExpired &&
		prev.ExpiresAt != nil && prev.ExpiresAt.After(now) {
		if next.ExpiresAt == nil || next.ExpiresAt.Before(*prev.ExpiresAt) {
			out = append(out, Violation{
				Rule:   RuleExpiryShortenedWithoutDate,
				Detail: fmt.Sprintf("user %s expiry moved from %s by the fallback duration", prev.UserID, prev.ExpiresAt.Format(time.RFC3339)),
			})
		}
	}

	if d.ShouldWrite {
		derived := sameTime(next.ExpiresAt, prev.ExpiresAt) ||
			sameTime(next.ExpiresAt, resolved.At) ||
			(next.ExpiresAt == nil && status == domain.StatusExpired)
		if !derived {
			out = append(out, Violation{
				Rule:   RuleExpiryNotDerived,
				Detail: fmt.Sprintf("user %s expiry is neither retained nor resolved from the snapshot", prev.UserID),
			})
		}
	}
	return out
}

// CheckIdempotent applies snap twice and reports a violation when the second
// application still asks for a write.
func CheckIdempotent(rec domain.Record, snap domain.Snapshot, now time.Time, policy Policy) []Violation {
	first := Decide(rec, snap, now, policy)
	second := Decide(first.State, snap, now, policy)
	if !second.ShouldWrite {
		return nil
	}
	return []Violation{{
		Rule:   RuleRepeatApplicationWrote,
		Detail: fmt.Sprintf("user %s second application wrote with reason %s", rec.UserID, second.Reason),
	}}
}
