package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Finding represents a record in the public.findings table, one per
// vulnerability report of a completed session.
type Finding struct {
	ID             int        `gorm:"primaryKey;column:id"`
	SessionID      string     `gorm:"column:session_id;not null;index"`
	ReportID       string     `gorm:"column:report_id;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;default:now()"`
	SourcePath     string     `gorm:"column:source_path"`
	Line           int        `gorm:"column:line"`
	CweID          string     `gorm:"column:cwe_id;not null"`
	CweDescription string     `gorm:"column:cwe_description"`
	Severity       string     `gorm:"column:severity;not null"`
	Confidence     float64    `gorm:"column:confidence"`
	Signal         string     `gorm:"column:signal"`
	ConfirmedBy    StringList `gorm:"column:confirmed_by;type:jsonb"`
	CrashInputs    StringList `gorm:"column:crash_inputs;type:jsonb"`
	Description    string     `gorm:"column:description"`
}

// StringList is stored as a jsonb array.
type StringList []string

// Value implements the driver.Valuer interface for the StringList type
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for the StringList type
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, l)
}
