package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrNotSubmitted      = errors.New("payment proof not submitted yet")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrUserNotFound      = errors.New("user not found")
)

type City string

const (
	CityMoscow City = "MOSCOW"
	CityPerm   City = "PERM"
	CityPiter  City = "PITER"
)

// Cities lists the meetup cities in display order.
var Cities = []City{CityMoscow, CityPerm, CityPiter}

func (c City) Title() string {
	switch c {
	case CityMoscow:
		return "Москва"
	case CityPerm:
		return "Пермь"
	case CityPiter:
		return "Санкт-Петербург"
	}
	return string(c)
}

// Locative returns the "in <city>" form used in confirmation messages.
func (c City) Locative() string {
	switch c {
	case CityMoscow:
		return "Москве"
	case CityPerm:
		return "Перми"
	case CityPiter:
		return "Санкт-Петербурге"
	}
	return string(c)
}

func (c City) Valid() bool {
	for _, v := range Cities {
		if v == c {
			return true
		}
	}
	return false
}

// ParseCity accepts a city code or its Russian title.
func ParseCity(s string) (City, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Cities {
		if strings.EqualFold(s, string(c)) || strings.EqualFold(s, c.Title()) {
			return c, true
		}
	}
	if strings.EqualFold(s, "Питер") || strings.EqualFold(s, "СПб") {
		return CityPiter, true
	}
	return "", false
}

type GraduateType string

const (
	GraduateTypeGraduate    GraduateType = "GRADUATE"
	GraduateTypeTeacher     GraduateType = "TEACHER"
	GraduateTypeNonGraduate GraduateType = "NON_GRADUATE"
)

func (g GraduateType) Title() string {
	switch g {
	case GraduateTypeTeacher:
		return "Учитель"
	case GraduateTypeNonGraduate:
		return "Друг школы"
	}
	return "Выпускник"
}

type PaymentStatus string

const (
	StatusNotRequired PaymentStatus = "not_required"
	StatusPending     PaymentStatus = "pending"
	StatusSubmitted   PaymentStatus = "submitted"
	StatusValidated   PaymentStatus = "validated"
	StatusDeclined    PaymentStatus = "declined"
)

// CanTransition reports whether a payment may move from s to next.
// The only legal paths are pending→submitted→{validated,declined}.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSubmitted
	case StatusSubmitted:
		return next == StatusValidated || next == StatusDeclined
	}
	return false
}

// CheckTransition explains why a payment in status s cannot move to next.
// Deciding a payment whose proof has not arrived yet is ErrNotSubmitted,
// anything else illegal is ErrInvalidTransition.
func (s PaymentStatus) CheckTransition(next PaymentStatus) error {
	if s.CanTransition(next) {
		return nil
	}
	if s == StatusPending && StatusSubmitted.CanTransition(next) {
		return ErrNotSubmitted
	}
	return ErrInvalidTransition
}

// OpenStatuses are the statuses of a payment that still awaits a decision.
var OpenStatuses = []PaymentStatus{StatusPending, StatusSubmitted}

func (s PaymentStatus) Open() bool {
	for _, o := range OpenStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Settled reports whether nothing more is expected from the user.
func (s PaymentStatus) Settled() bool {
	return s == StatusValidated || s == StatusNotRequired
}

func (s PaymentStatus) Title() string {
	switch s {
	case StatusNotRequired:
		return "Оплата не требуется"
	case StatusPending:
		return "Не оплачено"
	case StatusSubmitted:
		return "На проверке"
	case StatusValidated:
		return "Оплачено"
	case StatusDeclined:
		return "Отклонено"
	}
	return "Не оплачено"
}

func (s PaymentStatus) Emoji() string {
	switch s {
	case StatusValidated, StatusNotRequired:
		return "✅"
	case StatusDeclined:
		return "❌"
	}
	return "⏳"
}

type User struct {
	ID             int64         `bson:"_id"`
	Username       string        `bson:"username,omitempty"`
	FullName       string        `bson:"full_name"`
	City           City          `bson:"target_city"`
	GraduateType   GraduateType  `bson:"graduate_type"`
	GraduationYear int           `bson:"graduation_year"`
	ClassLetter    string        `bson:"class_letter"`
	PaymentStatus  PaymentStatus `bson:"payment_status"`
	PaymentAmount  int           `bson:"payment_amount"`
	CreatedAt      time.Time     `bson:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at"`
	// CanceledAt is set by /cancel_registration. Records are never deleted.
	CanceledAt *time.Time `bson:"canceled_at,omitempty"`
}

// Canceled reports whether the user withdrew the registration.
func (u *User) Canceled() bool {
	return u.CanceledAt != nil
}

// Validate checks that a record is complete before it is persisted.
func (u *User) Validate() error {
	switch {
	case u.ID == 0:
		return fmt.Errorf("user: empty id")
	case strings.TrimSpace(u.FullName) == "":
		return fmt.Errorf("user %d: empty full name", u.ID)
	case !u.City.Valid():
		return fmt.Errorf("user %d: unknown city %q", u.ID, u.City)
	case utf8.RuneCountInString(u.ClassLetter) > 1:
		return fmt.Errorf("user %d: class letter %q longer than one character", u.ID, u.ClassLetter)
	case u.GraduateType == GraduateTypeGraduate && (u.GraduationYear == 0 || u.ClassLetter == ""):
		return fmt.Errorf("user %d: graduation year and class letter required", u.ID)
	case u.PaymentStatus == "":
		return fmt.Errorf("user %d: empty payment status", u.ID)
	case u.City == CityPiter && u.PaymentStatus != StatusNotRequired:
		return fmt.Errorf("user %d: %s registration cannot require payment", u.ID, u.City)
	}
	return nil
}

// Graduation renders year and class, e.g. "2003 Б".
func (u *User) Graduation() string {
	if u.GraduateType != GraduateTypeGraduate {
		return u.GraduateType.Title()
	}
	return strings.TrimSpace(fmt.Sprintf("%d %s", u.GraduationYear, u.ClassLetter))
}

// UserHeader is the column order shared by the CSV and spreadsheet exports.
var UserHeader = []string{
	"ID", "Username", "ФИО", "Год выпуска", "Класс", "Тип", "Город", "Статус оплаты", "Сумма", "Зарегистрирован",
}

func (u *User) Record() []string {
	year := ""
	if u.GraduateType == GraduateTypeGraduate {
		year = strconv.Itoa(u.GraduationYear)
	}
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.Username,
		u.FullName,
		year,
		u.ClassLetter,
		u.GraduateType.Title(),
		u.City.Title(),
		u.PaymentStatus.Title(),
		strconv.Itoa(u.PaymentAmount),
		u.CreatedAt.Format(time.RFC3339),
	}
}

type FileKind string

const (
	FilePhoto    FileKind = "photo"
	FilePDF      FileKind = "pdf"
	FileDocument FileKind = "document"
)

// FileRef points to a Telegram file holding the payment proof.
type FileRef struct {
	ID   string   `bson:"file_id"`
	Kind FileKind `bson:"kind"`
}

// MessageRef identifies a Telegram message.
type MessageRef struct {
	ChatID    int64 `bson:"chat_id"`
	MessageID int   `bson:"message_id"`
}

type Payment struct {
	ID     string `bson:"_id"`
	UserID int64  `bson:"user_id"`
	City   City   `bson:"target_city"`

	MinimumAmount     int `bson:"minimum_amount"`
	RecommendedAmount int `bson:"recommended_amount"`
	PaidAmount        int `bson:"paid_amount"`

	File   *FileRef      `bson:"file,omitempty"`
	Status PaymentStatus `bson:"status"`

	AdminID      int64  `bson:"admin_id,omitempty"`
	AdminComment string `bson:"admin_comment,omitempty"`

	// ValidationMessages are the posted copies of the proof, one per
	// validation chat.
	ValidationMessages []MessageRef `bson:"validation_messages,omitempty"`

	CreatedAt   time.Time  `bson:"created_at"`
	SubmittedAt *time.Time `bson:"submitted_at,omitempty"`
	DecidedAt   *time.Time `bson:"decided_at,omitempty"`
}

// Submission carries the proof and the amounts quoted at submit time.
type Submission struct {
	File        FileRef
	Minimum     int
	Recommended int
	At          time.Time
}

// Decision is an admin verdict on a submitted payment.
type Decision struct {
	Status  PaymentStatus
	AdminID int64
	Amount  int
	Comment string
	At      time.Time
}

type CityStats struct {
	City       City
	Registered int
	ByStatus   map[PaymentStatus]int
	Collected  int
}

type Stats struct {
	Cities     []CityStats
	Registered int
	Collected  int
}

// Feedback is one answer to the post-meetup survey.
type Feedback struct {
	ID       string `bson:"_id"`
	UserID   int64  `bson:"user_id"`
	Username string `bson:"username,omitempty"`
	Attended bool   `bson:"attended"`
	City     City   `bson:"city,omitempty"`

	// ratings from 1 to 5, zero when not asked
	Recommendation      int `bson:"recommendation,omitempty"`
	VenueRating         int `bson:"venue_rating,omitempty"`
	FoodRating          int `bson:"food_rating,omitempty"`
	EntertainmentRating int `bson:"entertainment_rating,omitempty"`

	WillingToHelp string    `bson:"willing_to_help,omitempty"`
	Comment       string    `bson:"comment,omitempty"`
	ClubInterest  string    `bson:"club_interest,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}
