// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// TokenID is the opaque handle callers hold in place of a token.
type TokenID string

// Action is one kind of operation a token can authorize.
type Action string

// The action vocabulary. Tools map their operations onto these kinds;
// the set is closed so that delegation subset checks stay meaningful.
const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExecute Action = "execute"
	ActionRequest Action = "request"
	ActionSpawn   Action = "spawn"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionRead, ActionWrite, ActionExecute, ActionRequest, ActionSpawn:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrMalformedCapability, s)
}

// State is a token's lifecycle state. Tokens are immutable except for
// this field, and only the Store transitions it.
type State int

const (
	// StateActive means the token participates in checks.
	StateActive State = iota

	// StateRevoked means the token (or an ancestor) was revoked.
	StateRevoked

	// StateExpired is the lazy-observed state of a token past its
	// expiry. Stored tokens are not rewritten on expiry; the store
	// reports this state when asked after the deadline.
	StateExpired
)

// String returns "active", "revoked", or "expired".
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Constraints bound what an otherwise-matching token may authorize.
// Zero values mean "unconstrained" for that dimension. Delegation may
// only tighten: a child's numeric constraints must be no larger than a
// constrained parent's, and a child's allowlist must be a subset of a
// constrained parent's.
type Constraints struct {
	// TimeoutSeconds caps the wall time an action may declare. A
	// request declaring a longer timeout is denied.
	TimeoutSeconds int `cbor:"1,keyasint,omitempty" yaml:"timeout_seconds,omitempty"`

	// RatePerMinute caps calls authorized by this token over a
	// sliding one-minute window.
	RatePerMinute int `cbor:"2,keyasint,omitempty" yaml:"rate_per_minute,omitempty"`

	// MaxChildren caps subprocesses an execution may spawn; it also
	// tightens the sandbox spec's process limit.
	MaxChildren int `cbor:"3,keyasint,omitempty" yaml:"max_children,omitempty"`

	// Allowlist, when non-empty, restricts execute actions to
	// commands whose program word appears in the list.
	Allowlist []string `cbor:"4,keyasint,omitempty" yaml:"allowlist,omitempty"`
}

// IsZero reports whether no constraint dimension is set.
func (c Constraints) IsZero() bool {
	return c.TimeoutSeconds == 0 && c.RatePerMinute == 0 &&
		c.MaxChildren == 0 && len(c.Allowlist) == 0
}

// NarrowerThan reports whether c is within parent: every dimension the
// parent constrains must be constrained at least as tightly in c. An
// unconstrained parent dimension places no requirement on the child.
func (c Constraints) NarrowerThan(parent Constraints) bool {
	if !numericNarrower(c.TimeoutSeconds, parent.TimeoutSeconds) {
		return false
	}
	if !numericNarrower(c.RatePerMinute, parent.RatePerMinute) {
		return false
	}
	if !numericNarrower(c.MaxChildren, parent.MaxChildren) {
		return false
	}
	if len(parent.Allowlist) > 0 {
		if len(c.Allowlist) == 0 {
			return false
		}
		allowed := make(map[string]bool, len(parent.Allowlist))
		for _, entry := range parent.Allowlist {
			allowed[entry] = true
		}
		for _, entry := range c.Allowlist {
			if !allowed[entry] {
				return false
			}
		}
	}
	return true
}

// numericNarrower implements the per-dimension rule: parent zero means
// unconstrained (child may be anything); a constrained parent requires
// the child to be constrained and no larger.
func numericNarrower(child, parent int) bool {
	if parent == 0 {
		return true
	}
	return child != 0 && child <= parent
}

// Token is a capability: a bounded permission for one agent on one
// resource pattern. All fields except State are fixed at issuance.
// Callers receive copies; the Store holds the authoritative record.
type Token struct {
	ID          TokenID     `cbor:"1,keyasint"`
	AgentID     string      `cbor:"2,keyasint"`
	Resource    string      `cbor:"3,keyasint"`
	Actions     []Action    `cbor:"4,keyasint"`
	Constraints Constraints `cbor:"5,keyasint,omitempty"`

	// ParentID is the delegating token, empty for root grants.
	ParentID TokenID `cbor:"6,keyasint,omitempty"`

	IssuedAt  time.Time `cbor:"7,keyasint"`
	ExpiresAt time.Time `cbor:"8,keyasint,omitempty"`

	State State `cbor:"9,keyasint"`
}

// Allows reports whether the token's action set contains kind.
func (t *Token) Allows(kind Action) bool {
	for _, a := range t.Actions {
		if a == kind {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the token is past its expiry at the given
// time. Tokens without an expiry never expire.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// actionsSubset reports whether every action in child appears in parent.
func actionsSubset(child, parent []Action) bool {
	for _, a := range child {
		found := false
		for _, p := range parent {
			if a == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ErrMalformedCapability is returned for capability literals that do
// not parse. Malformed input is rejected outright — never silently
// treated as deny-all or allow-all.
var ErrMalformedCapability = errors.New("capability: malformed capability")

// newTokenID derives a token ID from the token's identity fields plus
// a random nonce, hashed with BLAKE3. The nonce makes IDs unguessable;
// the fields make collisions across agents structurally impossible to
// confuse in logs.
func newTokenID(agentID, resource string, issuedAt time.Time) (TokenID, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("capability: token ID nonce: %w", err)
	}

	hasher := blake3.New()
	hasher.Write([]byte(agentID))
	hasher.Write([]byte{0})
	hasher.Write([]byte(resource))
	hasher.Write([]byte{0})
	hasher.Write([]byte(strconv.FormatInt(issuedAt.UnixNano(), 10)))
	hasher.Write(nonce[:])

	sum := hasher.Sum(nil)
	return TokenID(hex.EncodeToString(sum[:16])), nil
}

// Literal renders the token in the debugging literal format:
//
//	scheme://resource/path?action=a,b&constraint=k:v,...
//
// This format exists for logs and the CLI, not as a wire protocol.
func (t *Token) Literal() string {
	var b strings.Builder
	b.WriteString(t.Resource)
	b.WriteString("?action=")

	names := make([]string, len(t.Actions))
	for i, a := range t.Actions {
		names[i] = string(a)
	}
	sort.Strings(names)
	b.WriteString(strings.Join(names, ","))

	pairs := constraintPairs(t.Constraints)
	if len(pairs) > 0 {
		b.WriteString("&constraint=")
		b.WriteString(strings.Join(pairs, ","))
	}
	return b.String()
}

func constraintPairs(c Constraints) []string {
	var pairs []string
	if c.TimeoutSeconds > 0 {
		pairs = append(pairs, "timeout_seconds:"+strconv.Itoa(c.TimeoutSeconds))
	}
	if c.RatePerMinute > 0 {
		pairs = append(pairs, "rate_per_minute:"+strconv.Itoa(c.RatePerMinute))
	}
	if c.MaxChildren > 0 {
		pairs = append(pairs, "max_children:"+strconv.Itoa(c.MaxChildren))
	}
	if len(c.Allowlist) > 0 {
		list := append([]string(nil), c.Allowlist...)
		sort.Strings(list)
		pairs = append(pairs, "allowlist:"+strings.Join(list, "|"))
	}
	return pairs
}

// ParseLiteral parses the literal format produced by Token.Literal.
// The returned token carries only the fields the literal encodes
// (resource, actions, constraints); identity and lifecycle fields are
// assigned at grant time. Malformed input returns
// ErrMalformedCapability.
func ParseLiteral(literal string) (Token, error) {
	parsed, err := url.Parse(literal)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedCapability, err)
	}
	if parsed.Scheme == "" {
		return Token{}, fmt.Errorf("%w: missing scheme in %q", ErrMalformedCapability, literal)
	}

	query, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedCapability, err)
	}

	actionsValue := query.Get("action")
	if actionsValue == "" {
		return Token{}, fmt.Errorf("%w: missing action list in %q", ErrMalformedCapability, literal)
	}

	var actions []Action
	for _, name := range strings.Split(actionsValue, ",") {
		action, err := ParseAction(strings.TrimSpace(name))
		if err != nil {
			return Token{}, err
		}
		actions = append(actions, action)
	}

	constraints, err := parseConstraintPairs(query.Get("constraint"))
	if err != nil {
		return Token{}, err
	}

	resource := parsed.Scheme + "://" + parsed.Host + parsed.Path
	return Token{
		Resource:    resource,
		Actions:     actions,
		Constraints: constraints,
	}, nil
}

func parseConstraintPairs(value string) (Constraints, error) {
	var c Constraints
	if value == "" {
		return c, nil
	}

	for _, pair := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(pair, ":")
		if !ok {
			return c, fmt.Errorf("%w: constraint %q is not k:v", ErrMalformedCapability, pair)
		}
		switch key {
		case "timeout_seconds":
			n, err := parsePositiveInt(val)
			if err != nil {
				return c, fmt.Errorf("%w: timeout_seconds %q", ErrMalformedCapability, val)
			}
			c.TimeoutSeconds = n
		case "rate_per_minute":
			n, err := parsePositiveInt(val)
			if err != nil {
				return c, fmt.Errorf("%w: rate_per_minute %q", ErrMalformedCapability, val)
			}
			c.RatePerMinute = n
		case "max_children":
			n, err := parsePositiveInt(val)
			if err != nil {
				return c, fmt.Errorf("%w: max_children %q", ErrMalformedCapability, val)
			}
			c.MaxChildren = n
		case "allowlist":
			if val == "" {
				return c, fmt.Errorf("%w: empty allowlist", ErrMalformedCapability)
			}
			c.Allowlist = strings.Split(val, "|")
		default:
			return c, fmt.Errorf("%w: unknown constraint %q", ErrMalformedCapability, key)
		}
	}
	return c, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	return n, nil
}
