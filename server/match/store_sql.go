package match

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

type MatchRecord struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Survivors datatypes.JSON `gorm:"not null"`
	Killer    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"index"`
}

type MatchTicket struct {
	Ticket  string `gorm:"primaryKey;size:64"`
	MatchID string `gorm:"index;size:64;not null"`
}

func NewMatchRecord(m *Match) (*MatchRecord, []MatchTicket, error) {
	survivors, err := json.Marshal(m.Survivors)
	if err != nil {
		return nil, nil, err
	}
	killer, err := json.Marshal(m.Killer)
	if err != nil {
		return nil, nil, err
	}
	rec := &MatchRecord{
		ID:        m.ID,
		Survivors: datatypes.JSON(survivors),
		Killer:    datatypes.JSON(killer),
		CreatedAt: m.CreatedAt,
	}
	tickets := make([]MatchTicket, 0, len(m.Survivors)+1)
	for _, t := range m.Tickets() {
		tickets = append(tickets, MatchTicket{Ticket: t, MatchID: m.ID})
	}
	return rec, tickets, nil
}

func (r *MatchRecord) ToMatch() (*Match, error) {
	m := &Match{ID: r.ID, CreatedAt: r.CreatedAt}
	if err := json.Unmarshal(r.Survivors, &m.Survivors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Killer, &m.Killer); err != nil {
		return nil, err
	}
	return m, nil
}

// SQLStore archives matches in a relational database. Record and ticket rows
// are written in one transaction.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&MatchRecord{}, &MatchTicket{})
}

func (s *SQLStore) AddMatch(ctx context.Context, m *Match) error {
	if err := m.validate(); err != nil {
		return err
	}
	rec, tickets, err := NewMatchRecord(m)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return tx.Create(&tickets).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return xerr.Wrap(xerr.CodeDuplicateTicket, err, "sql add match")
	}
	if err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "sql add match")
	}
	return nil
}

func (s *SQLStore) GetMatch(ctx context.Context, matchID string) (*Match, bool, error) {
	return s.getMatch(s.db.WithContext(ctx), matchID)
}

func (s *SQLStore) getMatch(db *gorm.DB, matchID string) (*Match, bool, error) {
	rec := &MatchRecord{}
	err := db.Where("id = ?", matchID).Take(rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "sql get match")
	}
	m, err := rec.ToMatch()
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "decode match "+matchID)
	}
	return m, true, nil
}

func (s *SQLStore) GetMatchByTicket(ctx context.Context, ticket string) (*Match, bool, error) {
	db := s.db.WithContext(ctx)
	row := &MatchTicket{}
	err := db.Where("ticket = ?", ticket).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "sql get ticket")
	}
	return s.getMatch(db, row.MatchID)
}

func (s *SQLStore) RemoveMatch(ctx context.Context, matchID string) (*Match, bool, error) {
	var removed *Match
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, has, err := s.getMatch(tx, matchID)
		if err != nil || !has {
			return err
		}
		if err := tx.Where("match_id = ?", matchID).Delete(&MatchTicket{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", matchID).Delete(&MatchRecord{}).Error; err != nil {
			return err
		}
		removed = m
		return nil
	})
	if err != nil {
		return nil, false, xerr.Wrap(xerr.CodeBackend, err, "sql remove match")
	}
	return removed, removed != nil, nil
}
