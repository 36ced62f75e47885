// Package rbac decides which offer documents a caller may see. Visibility is
// expressed as a filter the document store evaluates, so access is enforced
// by the same engine that answers the query.
package rbac

import (
	"strings"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

type Role string

const (
	RoleAgent   Role = "agent"
	RoleSeller  Role = "seller"
	RoleBuyer   Role = "buyer"
	RoleCarrier Role = "carrier"
	RoleUnknown Role = "unknown"
)

// UserContext identifies the caller for one request.
type UserContext struct {
	Role      Role   `json:"role"`
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
}

// NewUserContext normalizes the role and trims the identifiers.
func NewUserContext(role, accountID, userID string) UserContext {
	return UserContext{
		Role:      Normalize(role),
		AccountID: strings.TrimSpace(accountID),
		UserID:    strings.TrimSpace(userID),
	}
}

// Normalize maps a role name onto a known role, case-insensitively. Anything
// unrecognized becomes RoleUnknown, which sees nothing.
func Normalize(role string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleAgent, RoleSeller, RoleBuyer, RoleCarrier:
		return r
	default:
		return RoleUnknown
	}
}

// BuildFilter returns the predicate selecting the documents u may see. The
// result composes with other filters through filter.AllOf.
func BuildFilter(u UserContext) filter.Expr {
	role := Normalize(string(u.Role))
	if role == RoleAgent {
		return filter.All()
	}
	account := strings.TrimSpace(u.AccountID)
	if account == "" {
		return filter.None()
	}
	switch role {
	case RoleSeller:
		return filter.Eq("sellerId", account)
	case RoleBuyer:
		return filter.Within("purchases", filter.AllOf(
			filter.Eq("buyerId", account),
			filter.Has("offerId"),
		))
	case RoleCarrier:
		return filter.Within("transports", filter.AllOf(
			filter.Eq("carrierId", account),
			filter.Has("purchaseId"),
		))
	default:
		return filter.None()
	}
}

// CanAdminister reports whether u may run maintenance operations.
func CanAdminister(u UserContext) bool {
	return Normalize(string(u.Role)) == RoleAgent
}

// Scope trims a document the caller is allowed to see down to the embedded
// entries that belong to them. Buyers keep their purchases and the transports
// of those purchases; carriers keep their transports and the purchases those
// reference. Agents and sellers see the whole document. The input is not
// modified.
func Scope(u UserContext, doc *model.OfferDocument) *model.OfferDocument {
	if doc == nil {
		return nil
	}
	account := model.ID(strings.TrimSpace(u.AccountID))
	switch Normalize(string(u.Role)) {
	case RoleAgent, RoleSeller:
		return doc
	case RoleBuyer:
		out := doc.Clone()
		purchases := out.Purchases[:0]
		own := map[model.ID]struct{}{}
		for _, p := range out.Purchases {
			if p.BuyerID == account {
				purchases = append(purchases, p)
				own[p.ID] = struct{}{}
			}
		}
		out.Purchases = purchases
		transports := out.Transports[:0]
		for _, t := range out.Transports {
			if _, ok := own[t.PurchaseID]; ok {
				transports = append(transports, t)
			}
		}
		out.Transports = transports
		return out
	case RoleCarrier:
		out := doc.Clone()
		transports := out.Transports[:0]
		referenced := map[model.ID]struct{}{}
		for _, t := range out.Transports {
			if t.CarrierID == account {
				transports = append(transports, t)
				referenced[t.PurchaseID] = struct{}{}
			}
		}
		out.Transports = transports
		purchases := out.Purchases[:0]
		for _, p := range out.Purchases {
			if _, ok := referenced[p.ID]; ok {
				purchases = append(purchases, p)
			}
		}
		out.Purchases = purchases
		return out
	default:
		return nil
	}
}
