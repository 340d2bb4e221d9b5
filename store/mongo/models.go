package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                     string    `grove:"id,pk"                    bson:"_id"`
	TenantID               string    `grove:"tenant_id"                bson:"tenant_id"`
	ProviderSubscriptionID string    `grove:"provider_subscription_id" bson:"provider_subscription_id"`
	ProviderCustomerID     string    `grove:"provider_customer_id"     bson:"provider_customer_id"`
	Status                 string    `grove:"status"                   bson:"status"`
	Quantity               int       `grove:"quantity"                 bson:"quantity"`
	CurrentPeriodStart     time.Time `grove:"current_period_start"     bson:"current_period_start"`
	CurrentPeriodEnd       time.Time `grove:"current_period_end"       bson:"current_period_end"`
	CreatedAt              time.Time `grove:"created_at"               bson:"created_at"`
	UpdatedAt              time.Time `grove:"updated_at"               bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                     s.ID.String(),
		TenantID:               s.TenantID,
		ProviderSubscriptionID: s.ProviderSubscriptionID,
		ProviderCustomerID:     s.ProviderCustomerID,
		Status:                 string(s.Status),
		Quantity:               s.Quantity,
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     subID,
		TenantID:               m.TenantID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		ProviderCustomerID:     m.ProviderCustomerID,
		Status:                 subscription.Status(m.Status),
		Quantity:               m.Quantity,
		CurrentPeriodStart:     m.CurrentPeriodStart,
		CurrentPeriodEnd:       m.CurrentPeriodEnd,
	}, nil
}

// ==================== Seat allocation models ====================

type seatAllocationModel struct {
	grove.BaseModel `grove:"table:entitle_seat_allocations"`

	ID                     string    `grove:"id,pk"                    bson:"_id"`
	TenantID               string    `grove:"tenant_id"                bson:"tenant_id"`
	ProviderSubscriptionID string    `grove:"provider_subscription_id" bson:"provider_subscription_id"`
	PurchasedSeats         int       `grove:"purchased_seats"          bson:"purchased_seats"`
	UsedSeats              int       `grove:"used_seats"               bson:"used_seats"`
	PeriodStart            time.Time `grove:"period_start"             bson:"period_start"`
	PeriodEnd              time.Time `grove:"period_end"               bson:"period_end"`
	AutoRenew              bool      `grove:"auto_renew"               bson:"auto_renew"`
	CreatedAt              time.Time `grove:"created_at"               bson:"created_at"`
	UpdatedAt              time.Time `grove:"updated_at"               bson:"updated_at"`
}

func toSeatAllocationModel(a *seat.Allocation) *seatAllocationModel {
	return &seatAllocationModel{
		ID:                     a.ID.String(),
		TenantID:               a.TenantID,
		ProviderSubscriptionID: a.ProviderSubscriptionID,
		PurchasedSeats:         a.PurchasedSeats,
		UsedSeats:              a.UsedSeats,
		PeriodStart:            a.PeriodStart,
		PeriodEnd:              a.PeriodEnd,
		AutoRenew:              a.AutoRenew,
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
}

func fromSeatAllocationModel(m *seatAllocationModel) (*seat.Allocation, error) {
	seatID, err := id.ParseSeatID(m.ID)
	if err != nil {
		return nil, err
	}

	return &seat.Allocation{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     seatID,
		TenantID:               m.TenantID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		PurchasedSeats:         m.PurchasedSeats,
		UsedSeats:              m.UsedSeats,
		PeriodStart:            m.PeriodStart,
		PeriodEnd:              m.PeriodEnd,
		AutoRenew:              m.AutoRenew,
	}, nil
}

// ==================== Member models ====================

type memberModel struct {
	grove.BaseModel `grove:"table:entitle_members"`

	ID            string     `grove:"id,pk"          bson:"_id"`
	TenantID      string     `grove:"tenant_id"      bson:"tenant_id"`
	UserID        string     `grove:"user_id"        bson:"user_id"`
	Role          string     `grove:"role"           bson:"role"`
	Status        string     `grove:"status"         bson:"status"`
	JoinedAt      time.Time  `grove:"joined_at"      bson:"joined_at"`
	DeactivatedAt *time.Time `grove:"deactivated_at" bson:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"     bson:"updated_at"`
}

func toMemberModel(m *member.Member) *memberModel {
	return &memberModel{
		ID:            m.ID.String(),
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		Role:          string(m.Role),
		Status:        string(m.Status),
		JoinedAt:      m.JoinedAt,
		DeactivatedAt: m.DeactivatedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromMemberModel(m *memberModel) (*member.Member, error) {
	memberID, err := id.ParseMemberID(m.ID)
	if err != nil {
		return nil, err
	}

	return &member.Member{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            memberID,
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		Role:          member.Role(m.Role),
		Status:        member.Status(m.Status),
		JoinedAt:      m.JoinedAt,
		DeactivatedAt: m.DeactivatedAt,
	}, nil
}

// ==================== Idempotency ledger models ====================

type processedEventModel struct {
	grove.BaseModel `grove:"table:entitle_processed_events"`

	EventID     string    `grove:"event_id,pk"  bson:"_id"`
	TenantID    string    `grove:"tenant_id"    bson:"tenant_id"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
}

// ==================== Event log models ====================

type eventLogModel struct {
	grove.BaseModel `grove:"table:entitle_event_log"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	EventID        string    `grove:"event_id"        bson:"event_id"`
	EventType      string    `grove:"event_type"      bson:"event_type"`
	TenantID       string    `grove:"tenant_id"       bson:"tenant_id"`
	SubscriptionID string    `grove:"subscription_id" bson:"subscription_id,omitempty"`
	Outcome        string    `grove:"outcome"         bson:"outcome"`
	Detail         string    `grove:"detail"          bson:"detail,omitempty"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
}

func toEventLogModel(e *audit.Entry) *eventLogModel {
	subID := ""
	if !e.SubscriptionID.IsNil() {
		subID = e.SubscriptionID.String()
	}
	return &eventLogModel{
		ID:             e.ID.String(),
		EventID:        e.EventID,
		EventType:      e.EventType,
		TenantID:       e.TenantID,
		SubscriptionID: subID,
		Outcome:        string(e.Outcome),
		Detail:         e.Detail,
		CreatedAt:      e.CreatedAt,
	}
}

func fromEventLogModel(m *eventLogModel) (*audit.Entry, error) {
	entryID, err := id.ParseLogEntryID(m.ID)
	if err != nil {
		return nil, err
	}

	var subID id.SubscriptionID
	if m.SubscriptionID != "" {
		subID, err = id.ParseSubscriptionID(m.SubscriptionID)
		if err != nil {
			return nil, err
		}
	}

	return &audit.Entry{
		ID:             entryID,
		EventID:        m.EventID,
		EventType:      m.EventType,
		TenantID:       m.TenantID,
		SubscriptionID: subID,
		Outcome:        audit.Outcome(m.Outcome),
		Detail:         m.Detail,
		CreatedAt:      m.CreatedAt,
	}, nil
}
