package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentKind tells finalize what a completed payment buys.
type IntentKind string

const (
	IntentRenewal    IntentKind = "RENEWAL"
	IntentPlanChange IntentKind = "PLAN_CHANGE"
)

const (
	renewalPrefix    = "REN"
	planChangePrefix = "CHG"
)

// ErrUnrecognizedTransactionID is returned by ParseTransactionID for ids
// that carry no known intent prefix.
var ErrUnrecognizedTransactionID = errors.New("unrecognized transaction id")

// Intent is what a payment was created for. The zero value means unknown.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Months     int        `json:"months"`
	TargetPlan Plan       `json:"target_plan,omitempty"`
}

func NewRenewalIntent(months int) Intent {
	return Intent{Kind: IntentRenewal, Months: months}
}

func NewPlanChangeIntent(target Plan, months int) Intent {
	return Intent{Kind: IntentPlanChange, Months: months, TargetPlan: target}
}

// IsKnown reports whether the intent can be applied to a subscription.
func (i Intent) IsKnown() bool {
	switch i.Kind {
	case IntentRenewal:
		return i.Months > 0
	case IntentPlanChange:
		return i.Months > 0 && i.TargetPlan != ""
	}
	return false
}

// TransactionID builds the order id sent to the provider:
// REN-{subscription}-{months}-{unixMillis}-{nonce} or
// CHG-{subscription}-{plan}-{months}-{unixMillis}-{nonce}. The nonce keeps
// ids of attempts started in the same millisecond apart.
func (i Intent) TransactionID(subscriptionID uuid.UUID, now time.Time) string {
	return i.transactionID(subscriptionID, now, newNonce())
}

func (i Intent) transactionID(subscriptionID uuid.UUID, now time.Time, nonce string) string {
	ts := now.UnixMilli()
	if i.Kind == IntentPlanChange {
		return fmt.Sprintf("%s-%s-%s-%d-%d-%s", planChangePrefix, subscriptionID, i.TargetPlan, i.Months, ts, nonce)
	}
	return fmt.Sprintf("%s-%s-%d-%d-%s", renewalPrefix, subscriptionID, i.Months, ts, nonce)
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:nonceLen]
}

const (
	nonceLen = 6
	// uuidGroups is the number of dash-separated groups in a canonical UUID.
	uuidGroups = 5
)

// ParseTransactionID recovers the subscription id and intent from an order
// id built by TransactionID. Ids without the trailing nonce are accepted.
func ParseTransactionID(id string) (uuid.UUID, Intent, error) {
	prefix, rest, ok := strings.Cut(id, "-")
	if !ok {
		return uuid.Nil, Intent{}, fmt.Errorf("%w: %q", ErrUnrecognizedTransactionID, id)
	}

	var kind IntentKind
	var fields int
	switch prefix {
	case renewalPrefix:
		kind, fields = IntentRenewal, 2
	case planChangePrefix:
		kind, fields = IntentPlanChange, 3
	default:
		return uuid.Nil, Intent{}, fmt.Errorf("%w: %q", ErrUnrecognizedTransactionID, id)
	}

	parts := strings.Split(rest, "-")
	if len(parts) < uuidGroups+fields {
		return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q", id)
	}
	subscriptionID, err := uuid.Parse(strings.Join(parts[:uuidGroups], "-"))
	if err != nil {
		return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q: %w", id, err)
	}

	tail := parts[uuidGroups:]
	switch len(tail) {
	case fields:
	case fields + 1:
		if tail[fields] == "" {
			return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q: empty nonce", id)
		}
		tail = tail[:fields]
	default:
		return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q", id)
	}

	// Read from the right: ..., months, timestamp.
	if _, err := strconv.ParseInt(tail[len(tail)-1], 10, 64); err != nil {
		return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q: bad timestamp", id)
	}
	months, err := strconv.Atoi(tail[len(tail)-2])
	if err != nil || months < 1 {
		return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q: bad months", id)
	}

	if kind == IntentRenewal {
		return subscriptionID, NewRenewalIntent(months), nil
	}
	plan, err := ParsePlan(tail[0])
	if err != nil {
		return uuid.Nil, Intent{}, fmt.Errorf("malformed transaction id %q: %w", id, err)
	}
	return subscriptionID, NewPlanChangeIntent(plan, months), nil
}
