package store

import (
	"context"
	"fmt"

	"github.com/icco/numduel"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Standing is one leaderboard line.
type Standing struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Games  int    `json:"games"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	Ties   int    `json:"ties"`
}

type result struct {
	wins, losses, ties int
}

// FinalizeRoom stamps finished_at on a decided room and folds its result
// into both players' stats. Rooms already stamped, or without a winner, are
// left alone, so calling it twice counts once.
func (s *Store) FinalizeRoom(ctx context.Context, code string) error {
	_, err := s.Finalize(ctx, code)
	return err
}

// Finalize is FinalizeRoom that also returns the room it stamped, or nil
// when this call stamped nothing.
func (s *Store) Finalize(ctx context.Context, code string) (*numduel.Room, error) {
	var stamped *numduel.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stamp := tx.Model(&GameRoom{}).
			Where("code = ? AND finished_at IS NULL AND winner <> ?", code, string(numduel.WinnerUnset)).
			Updates(map[string]interface{}{
				"finished_at": s.now(),
				"version":     gorm.Expr("version + 1"),
			})
		if stamp.Error != nil {
			return fmt.Errorf("stamp room %s: %w", code, stamp.Error)
		}
		if stamp.RowsAffected == 0 {
			return nil
		}

		var row GameRoom
		if err := tx.Where("code = ?", code).First(&row).Error; err != nil {
			return err
		}

		for id, res := range results(row) {
			if err := addResult(tx, id, res); err != nil {
				return fmt.Errorf("record result for %s: %w", id, err)
			}
		}
		stamped = row.toRoom()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stamped, nil
}

func results(row GameRoom) map[string]result {
	out := map[string]result{}
	one, two := row.Player1ID, row.Player2ID
	switch numduel.Winner(row.Winner) {
	case numduel.WinnerOne:
		out[one] = result{wins: 1}
		out[two] = result{losses: 1}
	case numduel.WinnerTwo:
		out[one] = result{losses: 1}
		out[two] = result{wins: 1}
	case numduel.WinnerTie:
		out[one] = result{ties: 1}
		out[two] = result{ties: 1}
	}
	delete(out, "")
	return out
}

func addResult(tx *gorm.DB, userID string, res result) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&PlayerStats{UserID: userID}).Error; err != nil {
		return err
	}
	return tx.Model(&PlayerStats{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"games":  gorm.Expr("games + 1"),
		"wins":   gorm.Expr("wins + ?", res.wins),
		"losses": gorm.Expr("losses + ?", res.losses),
		"ties":   gorm.Expr("ties + ?", res.ties),
	}).Error
}

// Stats returns a player's aggregate, zero valued if they never finished a
// game.
func (s *Store) Stats(ctx context.Context, userID string) (*PlayerStats, error) {
	var st PlayerStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&st).Error
	if err != nil {
		return nil, err
	}
	st.UserID = userID
	return &st, nil
}

// Leaderboard returns the top players by wins, then ties.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var stats []PlayerStats
	if err := s.db.WithContext(ctx).
		Order("wins desc, ties desc, games asc, user_id asc").
		Limit(limit).
		Find(&stats).Error; err != nil {
		return nil, err
	}

	profiles, err := s.Profiles(ctx, lo.Map(stats, func(st PlayerStats, _ int) string { return st.UserID })...)
	if err != nil {
		return nil, err
	}

	return lo.Map(stats, func(st PlayerStats, _ int) Standing {
		return Standing{
			UserID: st.UserID,
			Name:   profiles[st.UserID].Name,
			Games:  st.Games,
			Wins:   st.Wins,
			Losses: st.Losses,
			Ties:   st.Ties,
		}
	}), nil
}

// UpsertProfile stores the latest display data for a user.
func (s *Store) UpsertProfile(ctx context.Context, p *Profile) error {
	p.UpdatedAt = s.now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "avatar_url", "updated_at"}),
	}).Create(p).Error
}

// Profiles returns the known profiles for ids, keyed by user id.
func (s *Store) Profiles(ctx context.Context, ids ...string) (map[string]Profile, error) {
	ids = lo.Compact(lo.Uniq(ids))
	if len(ids) == 0 {
		return map[string]Profile{}, nil
	}

	var profiles []Profile
	if err := s.db.WithContext(ctx).Where("user_id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	return lo.KeyBy(profiles, func(p Profile) string { return p.UserID }), nil
}
