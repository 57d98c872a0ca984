// Package transport defines the narrow capability interfaces the reconciler
// and command layer depend on. The Discord adapter implements them; tests
// substitute in-memory fakes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Deliverer sends one text message to a fixed destination (a channel).
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// RoleManager grants and revokes the transient birthday role.
type RoleManager interface {
	Grant(ctx context.Context, memberID int64) error
	Revoke(ctx context.Context, memberID int64) error
	// Has reports whether the member currently holds the role.
	Has(ctx context.Context, memberID int64) (bool, error)
}

// Member is a resolvable community member.
type Member struct {
	ID          int64
	DisplayName string
	Mention     string
}

// MemberDirectory resolves member identifiers against the target community.
// ok is false when the member is no longer part of the community.
type MemberDirectory interface {
	Resolve(ctx context.Context, memberID int64) (Member, bool, error)
}

// MentionKind tags the role-to-mention variant of a manual wish.
type MentionKind int

const (
	MentionNone MentionKind = iota
	MentionEveryone
	MentionRole
)

// Mention is the role-to-mention field of a manual wish, decided once at
// input-parsing time and never re-interpreted downstream.
type Mention struct {
	Kind   MentionKind
	RoleID int64
}

var ErrBadMention = errors.New("mention must be empty, \"everyone\" or a numeric role id")

// ParseMention interprets the free-form role-to-ping input exactly once.
func ParseMention(raw string) (Mention, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Mention{Kind: MentionNone}, nil
	case strings.EqualFold(raw, "everyone"):
		return Mention{Kind: MentionEveryone}, nil
	default:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Mention{}, ErrBadMention
		}
		return Mention{Kind: MentionRole, RoleID: id}, nil
	}
}

// Prefix renders the mention as a message prefix ("" for none).
func (m Mention) Prefix() string {
	switch m.Kind {
	case MentionEveryone:
		return "@everyone "
	case MentionRole:
		return fmt.Sprintf("<@&%d> ", m.RoleID)
	default:
		return ""
	}
}

// StoreKind maps the variant to its persisted representation.
func (m Mention) StoreKind() string {
	switch m.Kind {
	case MentionEveryone:
		return "everyone"
	case MentionRole:
		return "role"
	default:
		return "none"
	}
}

// MentionFromStore rebuilds the variant from its persisted representation.
// Unknown kinds collapse to none.
func MentionFromStore(kind string, roleID int64) Mention {
	switch kind {
	case "everyone":
		return Mention{Kind: MentionEveryone}
	case "role":
		return Mention{Kind: MentionRole, RoleID: roleID}
	default:
		return Mention{Kind: MentionNone}
	}
}
