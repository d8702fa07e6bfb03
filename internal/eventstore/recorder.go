package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord is the durable mirror of an Event. It is a best-effort
// backfill store, not the authoritative source for live reads — the
// in-memory Store answers all hot-path queries.
type EventRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement:false"`
	Timestamp time.Time `gorm:"index;not null"`
	Cycle     uint64    `gorm:"not null"`
	Kind      string    `gorm:"index;not null"`
	Payload   string    `gorm:"type:text;not null;comment:JSON-encoded event payload"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (EventRecord) TableName() string {
	return "events"
}

// MySQLRecorder persists Events for durable backfill beyond the ring
// buffer's retention window.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a MySQL connection and migrates the events
// table. dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &MySQLRecorder{db: db}, nil
}

// NewMySQLRecorderWithDB wraps an already-open GORM connection.
func NewMySQLRecorderWithDB(db *gorm.DB) (*MySQLRecorder, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// RecordEvent persists e. The caller is expected to invoke this
// asynchronously (e.g. subscribed to the Bus) so a slow database never
// stalls the observation cycle.
func (r *MySQLRecorder) RecordEvent(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	record := EventRecord{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Cycle:     e.Cycle,
		Kind:      string(e.Kind),
		Payload:   string(payload),
	}

	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("failed to record event: %w", result.Error)
	}
	return nil
}

// Subscribe records every event published on bus until ctx is cancelled.
// It runs in its own goroutine so a slow or unreachable database never
// stalls the observation cycle; individual recording failures are logged
// and otherwise ignored, matching RecordEvent's documented async-caller
// contract.
func (r *MySQLRecorder) Subscribe(ctx context.Context, bus *Bus, log *slog.Logger) {
	events, subID := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(subID)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := r.RecordEvent(e); err != nil {
					log.Warn("mysql recorder: record event failed", "error", err, "event_id", e.ID)
				}
			}
		}
	}()
}

// GetLatestEvent retrieves the most recently persisted event.
func (r *MySQLRecorder) GetLatestEvent() (*EventRecord, error) {
	var record EventRecord
	if result := r.db.Order("id DESC").First(&record); result.Error != nil {
		return nil, fmt.Errorf("failed to get latest event: %w", result.Error)
	}
	return &record, nil
}

// GetEventsByTimeRange retrieves persisted events within [start, end].
func (r *MySQLRecorder) GetEventsByTimeRange(start, end time.Time) ([]EventRecord, error) {
	var records []EventRecord
	result := r.db.Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get events by time range: %w", result.Error)
	}
	return records, nil
}

// GetEventsByKind retrieves all persisted events of the given kind.
func (r *MySQLRecorder) GetEventsByKind(kind Kind) ([]EventRecord, error) {
	var records []EventRecord
	result := r.db.Where("kind = ?", string(kind)).
		Order("id ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get events by kind: %w", result.Error)
	}
	return records, nil
}

// CountEvents returns the total number of persisted events.
func (r *MySQLRecorder) CountEvents() (int64, error) {
	var count int64
	result := r.db.Model(&EventRecord{}).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count events: %w", result.Error)
	}
	return count, nil
}

func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
