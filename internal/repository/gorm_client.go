package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"whatsapp-relay/internal/domain"
)

// PostgresConfig controls GORM/PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        gormlogger.LogLevel
}

// OpenPostgres initializes a GORM connection using the provided config.
func OpenPostgres(cfg PostgresConfig) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("repository: database DSN is empty")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = gormlogger.Warn
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("repository: retrieve sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// AutoMigrate creates or updates the conversations, messages and
// appointments tables.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("repository: db must not be nil")
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&conversationRecord{},
		&messageRecord{},
		&appointmentRecord{},
	); err != nil {
		return fmt.Errorf("repository: AutoMigrate: %w", err)
	}
	return nil
}

var onConflictUserPhone = clause.OnConflict{Columns: []clause.Column{{Name: "user_phone"}}, DoNothing: true}

// GormClient is the relational ReadWriter.
type GormClient struct {
	db *gorm.DB
}

var _ ReadWriter = (*GormClient)(nil)

func NewGorm(db *gorm.DB) (*GormClient, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &GormClient{db: db}, nil
}

func (c *GormClient) FindConversation(ctx context.Context, userPhone string) (domain.Conversation, bool, error) {
	var rec conversationRecord
	err := c.db.WithContext(ctx).Where("user_phone = ?", userPhone).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: FindConversation: %w", err)
	}
	return rec.toDomain(), true, nil
}

// GetOrCreateConversation inserts with ON CONFLICT (user_phone) DO NOTHING and
// rereads, so the unique index settles concurrent first contacts.
func (c *GormClient) GetOrCreateConversation(ctx context.Context, userPhone string, origin domain.Origin) (domain.Conversation, bool, error) {
	existing, ok, err := c.FindConversation(ctx, userPhone)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetOrCreateConversation: %w", err)
	}
	if ok {
		return existing, false, nil
	}

	rec := newConversationRecord(NewConversation(userPhone, origin))
	res := c.db.WithContext(ctx).
		Clauses(onConflictUserPhone).
		Create(&rec)
	if res.Error != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetOrCreateConversation insert: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return rec.toDomain(), true, nil
	}

	existing, ok, err = c.FindConversation(ctx, userPhone)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetOrCreateConversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, false, errors.New("repository: GetOrCreateConversation: conversation missing after conflict")
	}
	return existing, false, nil
}

func (c *GormClient) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	var recs []messageRecord
	err := c.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("repository: RecentMessages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, rec.toDomain())
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (c *GormClient) SaveMessages(ctx context.Context, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	recs := make([]messageRecord, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" || msg.ConversationID == "" {
			return errors.New("repository: SaveMessages: message id and conversation id are required")
		}
		recs = append(recs, newMessageRecord(msg))
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&recs).Error
	})
	if err != nil {
		return fmt.Errorf("repository: SaveMessages: %w", err)
	}
	return nil
}

func (c *GormClient) SetDeliveryStatus(ctx context.Context, metaMessageID string, status domain.DeliveryStatus) (bool, error) {
	res := c.db.WithContext(ctx).
		Model(&messageRecord{}).
		Where("meta_message_id = ?", metaMessageID).
		Update("status", string(status))
	if res.Error != nil {
		return false, fmt.Errorf("repository: SetDeliveryStatus: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (c *GormClient) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	return nil
}
