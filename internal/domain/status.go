package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemStatus is the state of one order line. The derived status of a
// seller's portion of an order uses the same set.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemPaid       ItemStatus = "paid"
	ItemShipped    ItemStatus = "shipped"
	ItemDelivered  ItemStatus = "delivered"
	ItemCancelled  ItemStatus = "cancelled"
)

// OrderStatus is what the buyer sees; it is always derived from the items.
type OrderStatus string

const (
	OrderPending            OrderStatus = "pending"
	OrderProcessing         OrderStatus = "processing"
	OrderPaid               OrderStatus = "paid"
	OrderShipped            OrderStatus = "shipped"
	OrderDelivered          OrderStatus = "delivered"
	OrderCancelled          OrderStatus = "cancelled"
	OrderPartiallyShipped   OrderStatus = "partially_shipped"
	OrderPartiallyDelivered OrderStatus = "partially_delivered"
	OrderPartiallyCancelled OrderStatus = "partially_cancelled"
)

func ParseItemStatus(s string) (ItemStatus, error) {
	switch st := ItemStatus(s); st {
	case ItemPending, ItemProcessing, ItemPaid, ItemShipped, ItemDelivered, ItemCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown item status %q", s)
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderPending, OrderProcessing, OrderPaid, OrderShipped, OrderDelivered, OrderCancelled,
		OrderPartiallyShipped, OrderPartiallyDelivered, OrderPartiallyCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s ItemStatus) Terminal() bool {
	return s == ItemDelivered || s == ItemCancelled
}

// HoldsReservation reports whether stock for a line in this state is still
// counted as reserved and must be given back when the line goes away.
func (s ItemStatus) HoldsReservation() bool {
	return s == ItemPending || s == ItemPaid || s == ItemProcessing
}

// base transition table; order of each slice is the display order. paid is
// accepted on stored rows but nothing transitions into it.
var validNext = map[ItemStatus][]ItemStatus{
	ItemPending:    {ItemProcessing, ItemCancelled},
	ItemPaid:       {ItemProcessing, ItemCancelled},
	ItemProcessing: {ItemShipped, ItemCancelled},
	ItemShipped:    {ItemDelivered},
	ItemDelivered:  {},
	ItemCancelled:  {},
}

func CanTransition(from, to ItemStatus) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

var sellerTargets = map[ItemStatus]bool{ItemProcessing: true, ItemShipped: true, ItemDelivered: true}

// RolePermits applies the role gate on top of the base table. Ownership is
// checked separately by the caller.
func RolePermits(role Role, from, to ItemStatus) bool {
	switch role {
	case RoleCustomer:
		return to == ItemCancelled && (from == ItemPending || from == ItemProcessing)
	case RoleSeller:
		return sellerTargets[to] && CanTransition(from, to)
	case RoleAdmin, RoleSystem:
		return CanTransition(from, to)
	}
	return false
}

// SellerMayTarget reports whether a seller may ever request to.
func SellerMayTarget(to ItemStatus) bool { return sellerTargets[to] }

// AllowedTransitions lists what role may move an item in current to.
func AllowedTransitions(current ItemStatus, role Role) []ItemStatus {
	out := []ItemStatus{}
	for _, s := range validNext[current] {
		if RolePermits(role, current, s) {
			out = append(out, s)
		}
	}
	return out
}

// DeriveSellerStatus reduces one seller's line statuses to a single status.
func DeriveSellerStatus(statuses []ItemStatus) ItemStatus {
	if len(statuses) == 0 {
		return ItemPending
	}
	if all(statuses, ItemCancelled) {
		return ItemCancelled
	}
	if all(statuses, ItemDelivered) {
		return ItemDelivered
	}
	if anyOf(statuses, ItemShipped) {
		return ItemShipped
	}
	if anyOf(statuses, ItemProcessing) {
		return ItemProcessing
	}
	return ItemPending
}

// DeriveOrderStatus combines per-seller statuses. The checks run in a fixed
// order and the first match wins: delivered+cancelled is partially_cancelled.
func DeriveOrderStatus(sellers []ItemStatus) OrderStatus {
	switch {
	case len(sellers) == 0:
		return OrderPending
	case all(sellers, ItemDelivered):
		return OrderDelivered
	case all(sellers, ItemCancelled):
		return OrderCancelled
	case anyOf(sellers, ItemCancelled):
		return OrderPartiallyCancelled
	case anyOf(sellers, ItemDelivered):
		return OrderPartiallyDelivered
	case all(sellers, ItemShipped):
		return OrderShipped
	case anyOf(sellers, ItemShipped):
		return OrderPartiallyShipped
	case anyOf(sellers, ItemProcessing):
		return OrderProcessing
	}
	return OrderPending
}

func all(ss []ItemStatus, want ItemStatus) bool {
	for _, s := range ss {
		if s != want {
			return false
		}
	}
	return true
}

func anyOf(ss []ItemStatus, want ItemStatus) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

// SellerGroup is the read-side partition of an order by seller.
type SellerGroup struct {
	SellerID uuid.UUID       `json:"seller_id"`
	Items    []OrderItem     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Units    int             `json:"units"`
	Status   ItemStatus      `json:"status"`
}

// GroupBySeller partitions items by seller, in order of first appearance.
func GroupBySeller(items []OrderItem) []SellerGroup {
	index := map[uuid.UUID]int{}
	var groups []SellerGroup
	for _, it := range items {
		i, ok := index[it.SellerID]
		if !ok {
			i = len(groups)
			index[it.SellerID] = i
			groups = append(groups, SellerGroup{SellerID: it.SellerID, Subtotal: decimal.Zero})
		}
		g := &groups[i]
		g.Items = append(g.Items, it)
		g.Subtotal = g.Subtotal.Add(it.Subtotal())
		g.Units += it.Quantity
	}
	for i := range groups {
		statuses := make([]ItemStatus, 0, len(groups[i].Items))
		for _, it := range groups[i].Items {
			statuses = append(statuses, it.Status)
		}
		groups[i].Status = DeriveSellerStatus(statuses)
	}
	return groups
}

// AggregateStatus derives the order status from the full item set.
func AggregateStatus(items []OrderItem) OrderStatus {
	groups := GroupBySeller(items)
	sellers := make([]ItemStatus, 0, len(groups))
	for _, g := range groups {
		sellers = append(sellers, g.Status)
	}
	return DeriveOrderStatus(sellers)
}

// SellerStatuses maps each seller in items to its derived status.
func SellerStatuses(items []OrderItem) map[uuid.UUID]ItemStatus {
	out := map[uuid.UUID]ItemStatus{}
	for _, g := range GroupBySeller(items) {
		out[g.SellerID] = g.Status
	}
	return out
}
