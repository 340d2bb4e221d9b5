package sqlite

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// SQLite stores timestamps in TEXT columns, which the driver scans back as
// strings. Models keep string fields and convert at the boundary. The
// layout is fixed-width UTC so lexical column order matches chronological
// order (the allocation and event log queries sort on these columns).
const timeLayout = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	// Rows created by the schema's datetime('now') defaults carry no
	// fractional seconds.
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("entitle/sqlite: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                     string `grove:"id,pk"`
	TenantID               string `grove:"tenant_id"`
	ProviderSubscriptionID string `grove:"provider_subscription_id"`
	ProviderCustomerID     string `grove:"provider_customer_id"`
	Status                 string `grove:"status"`
	Quantity               int    `grove:"quantity"`
	CurrentPeriodStart     string `grove:"current_period_start"`
	CurrentPeriodEnd       string `grove:"current_period_end"`
	CreatedAt              string `grove:"created_at"`
	UpdatedAt              string `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                     s.ID.String(),
		TenantID:               s.TenantID,
		ProviderSubscriptionID: s.ProviderSubscriptionID,
		ProviderCustomerID:     s.ProviderCustomerID,
		Status:                 string(s.Status),
		Quantity:               s.Quantity,
		CurrentPeriodStart:     formatTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:       formatTime(s.CurrentPeriodEnd),
		CreatedAt:              formatTime(s.CreatedAt),
		UpdatedAt:              formatTime(s.UpdatedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	periodStart, err := parseTime(m.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	periodEnd, err := parseTime(m.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                     subID,
		TenantID:               m.TenantID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		ProviderCustomerID:     m.ProviderCustomerID,
		Status:                 subscription.Status(m.Status),
		Quantity:               m.Quantity,
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
	}, nil
}

// ==================== Seat allocation models ====================

type seatAllocationModel struct {
	grove.BaseModel `grove:"table:entitle_seat_allocations"`

	ID                     string `grove:"id,pk"`
	TenantID               string `grove:"tenant_id"`
	ProviderSubscriptionID string `grove:"provider_subscription_id"`
	PurchasedSeats         int    `grove:"purchased_seats"`
	UsedSeats              int    `grove:"used_seats"`
	PeriodStart            string `grove:"period_start"`
	PeriodEnd              string `grove:"period_end"`
	AutoRenew              bool   `grove:"auto_renew"`
	CreatedAt              string `grove:"created_at"`
	UpdatedAt              string `grove:"updated_at"`
}

func toSeatAllocationModel(a *seat.Allocation) *seatAllocationModel {
	return &seatAllocationModel{
		ID:                     a.ID.String(),
		TenantID:               a.TenantID,
		ProviderSubscriptionID: a.ProviderSubscriptionID,
		PurchasedSeats:         a.PurchasedSeats,
		UsedSeats:              a.UsedSeats,
		PeriodStart:            formatTime(a.PeriodStart),
		PeriodEnd:              formatTime(a.PeriodEnd),
		AutoRenew:              a.AutoRenew,
		CreatedAt:              formatTime(a.CreatedAt),
		UpdatedAt:              formatTime(a.UpdatedAt),
	}
}

func fromSeatAllocationModel(m *seatAllocationModel) (*seat.Allocation, error) {
	seatID, err := id.ParseSeatID(m.ID)
	if err != nil {
		return nil, err
	}
	periodStart, err := parseTime(m.PeriodStart)
	if err != nil {
		return nil, err
	}
	periodEnd, err := parseTime(m.PeriodEnd)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &seat.Allocation{
		Entity: types.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                     seatID,
		TenantID:               m.TenantID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		PurchasedSeats:         m.PurchasedSeats,
		UsedSeats:              m.UsedSeats,
		PeriodStart:            periodStart,
		PeriodEnd:              periodEnd,
		AutoRenew:              m.AutoRenew,
	}, nil
}

// ==================== Member models ====================

type memberModel struct {
	grove.BaseModel `grove:"table:entitle_members"`

	ID            string  `grove:"id,pk"`
	TenantID      string  `grove:"tenant_id"`
	UserID        string  `grove:"user_id"`
	Role          string  `grove:"role"`
	Status        string  `grove:"status"`
	JoinedAt      string  `grove:"joined_at"`
	DeactivatedAt *string `grove:"deactivated_at"`
	CreatedAt     string  `grove:"created_at"`
	UpdatedAt     string  `grove:"updated_at"`
}

func toMemberModel(m *member.Member) *memberModel {
	return &memberModel{
		ID:            m.ID.String(),
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		Role:          string(m.Role),
		Status:        string(m.Status),
		JoinedAt:      formatTime(m.JoinedAt),
		DeactivatedAt: formatTimePtr(m.DeactivatedAt),
		CreatedAt:     formatTime(m.CreatedAt),
		UpdatedAt:     formatTime(m.UpdatedAt),
	}
}

func fromMemberModel(m *memberModel) (*member.Member, error) {
	memberID, err := id.ParseMemberID(m.ID)
	if err != nil {
		return nil, err
	}
	joinedAt, err := parseTime(m.JoinedAt)
	if err != nil {
		return nil, err
	}
	deactivatedAt, err := parseTimePtr(m.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &member.Member{
		Entity: types.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            memberID,
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		Role:          member.Role(m.Role),
		Status:        member.Status(m.Status),
		JoinedAt:      joinedAt,
		DeactivatedAt: deactivatedAt,
	}, nil
}

// ==================== Idempotency ledger models ====================

type processedEventModel struct {
	grove.BaseModel `grove:"table:entitle_processed_events"`

	EventID     string `grove:"event_id,pk"`
	TenantID    string `grove:"tenant_id"`
	ProcessedAt string `grove:"processed_at"`
}

// ==================== Event log models ====================

type eventLogModel struct {
	grove.BaseModel `grove:"table:entitle_event_log"`

	ID             string `grove:"id,pk"`
	EventID        string `grove:"event_id"`
	EventType      string `grove:"event_type"`
	TenantID       string `grove:"tenant_id"`
	SubscriptionID string `grove:"subscription_id"`
	Outcome        string `grove:"outcome"`
	Detail         string `grove:"detail"`
	CreatedAt      string `grove:"created_at"`
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
		CreatedAt:      formatTime(e.CreatedAt),
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

	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &audit.Entry{
		ID:             entryID,
		EventID:        m.EventID,
		EventType:      m.EventType,
		TenantID:       m.TenantID,
		SubscriptionID: subID,
		Outcome:        audit.Outcome(m.Outcome),
		Detail:         m.Detail,
		CreatedAt:      createdAt,
	}, nil
}
