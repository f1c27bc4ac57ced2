// Package model содержит доменные сущности сервиса биллинга абонементов.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Locale описывает язык уведомлений участника.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleAR Locale = "ar"
)

// Member представляет участника клуба, владельца абонементов и кошелька.
type Member struct {
	ID        uuid.UUID
	Locale    Locale
	CreatedAt time.Time
}

// Plan описывает тарифный план абонемента.
type Plan struct {
	ID                    uuid.UUID
	Name                  string
	Price                 decimal.Decimal
	Currency              string
	DurationDays          int
	FreezeDaysAllowed     int
	FreezeExtendsContract bool
	// MaxClasses равен nil для безлимитных планов.
	MaxClasses *int
	JoinFee    decimal.Decimal
	VATRate    decimal.Decimal
	Active     bool
}

// FreezePackage описывает пакет дней заморозки, который можно докупить к абонементу.
type FreezePackage struct {
	ID              uuid.UUID
	Name            string
	Days            int
	Price           decimal.Decimal
	Currency        string
	ExtendsContract bool
	Active          bool
}

// SubscriptionStatus описывает статус абонемента.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionFrozen    SubscriptionStatus = "FROZEN"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// IsTerminal сообщает, что из статуса нет переходов.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionExpired
}

// Valid сообщает, что статус входит в допустимый набор.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionPending, SubscriptionActive, SubscriptionFrozen, SubscriptionCancelled, SubscriptionExpired:
		return true
	}
	return false
}

// Subscription описывает абонемент участника.
type Subscription struct {
	ID        uuid.UUID
	MemberID  uuid.UUID
	PlanID    uuid.UUID
	Status    SubscriptionStatus
	StartDate time.Time
	EndDate   time.Time
	// ClassesRemaining равен nil, если количество занятий не ограничено.
	ClassesRemaining *int

	FrozenAt      *time.Time
	FreezeEndDate *time.Time
	FreezeDays    int
	// FreezeExtendedDays часть FreezeDays, на которую продлён договор.
	FreezeExtendedDays int
	FreezeReason       string

	CancelledAt  *time.Time
	CancelReason string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DaysRemaining возвращает число дней до окончания абонемента, не меньше нуля.
func (s Subscription) DaysRemaining(now time.Time) int {
	d := DaysBetween(Day(now), s.EndDate)
	if d < 0 {
		return 0
	}
	return d
}

// FreezeBalance хранит остаток дней заморозки абонемента.
// Дни, продлевающие договор, учитываются отдельным пулом внутри общего.
type FreezeBalance struct {
	SubscriptionID      uuid.UUID
	TotalFreezeDays     int
	UsedFreezeDays      int
	ExtendingFreezeDays int
	UsedExtendingDays   int
	Version             int64
}

// Remaining возвращает количество доступных дней заморозки.
func (b FreezeBalance) Remaining() int {
	return b.TotalFreezeDays - b.UsedFreezeDays
}

// ExtendingRemaining возвращает доступные дни, продлевающие договор.
func (b FreezeBalance) ExtendingRemaining() int {
	return b.ExtendingFreezeDays - b.UsedExtendingDays
}

// Day отбрасывает время суток и приводит момент к UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween возвращает количество календарных дней между датами.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}
