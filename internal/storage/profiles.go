package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LinkedInProfile holds LinkedIn-specific profile data for a linked account.
type LinkedInProfile struct {
	AccountID         string
	Headline          string
	Summary           string
	Industry          string
	CurrentPosition   string
	Company           string
	Location          string
	PublicProfileURL  string
	ConnectionCount   int
	ProfilePictureURL string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TwitterProfile holds Twitter-specific profile data for a linked account.
type TwitterProfile struct {
	AccountID       string
	ScreenName      string
	Description     string
	Location        string
	FollowersCount  int
	FollowingCount  int
	TweetCount      int
	LikeCount       int
	IsVerified      bool
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UpsertLinkedInProfile creates or replaces the LinkedIn profile row for an
// account.
func (s *SQLiteStorage) UpsertLinkedInProfile(ctx context.Context, p *LinkedInProfile) error {
	if p.AccountID == "" {
		return fmt.Errorf("%w: account ID cannot be empty", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO linkedin_profiles (
			account_id, headline, summary, industry, current_position, company,
			location, public_profile_url, connection_count, profile_picture_url, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET
			headline = excluded.headline,
			summary = excluded.summary,
			industry = excluded.industry,
			current_position = excluded.current_position,
			company = excluded.company,
			location = excluded.location,
			public_profile_url = excluded.public_profile_url,
			connection_count = excluded.connection_count,
			profile_picture_url = excluded.profile_picture_url,
			updated_at = CURRENT_TIMESTAMP`,
		p.AccountID, p.Headline, p.Summary, p.Industry, p.CurrentPosition, p.Company,
		p.Location, p.PublicProfileURL, p.ConnectionCount, p.ProfilePictureURL,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert linkedin profile: %w", err)
	}
	return nil
}

// LinkedInProfileByAccount loads the LinkedIn profile row for an account.
func (s *SQLiteStorage) LinkedInProfileByAccount(ctx context.Context, accountID string) (*LinkedInProfile, error) {
	p := &LinkedInProfile{}
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, headline, summary, industry, current_position, company,
		       location, public_profile_url, connection_count, profile_picture_url, created_at, updated_at
		FROM linkedin_profiles WHERE account_id = ?`, accountID).Scan(
		&p.AccountID, &p.Headline, &p.Summary, &p.Industry, &p.CurrentPosition, &p.Company,
		&p.Location, &p.PublicProfileURL, &p.ConnectionCount, &p.ProfilePictureURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load linkedin profile: %w", err)
	}
	return p, nil
}

// UpsertTwitterProfile creates or replaces the Twitter profile row for an
// account.
func (s *SQLiteStorage) UpsertTwitterProfile(ctx context.Context, p *TwitterProfile) error {
	if p.AccountID == "" {
		return fmt.Errorf("%w: account ID cannot be empty", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO twitter_profiles (
			account_id, screen_name, description, location, followers_count,
			following_count, tweet_count, like_count, is_verified, profile_image_url, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET
			screen_name = excluded.screen_name,
			description = excluded.description,
			location = excluded.location,
			followers_count = excluded.followers_count,
			following_count = excluded.following_count,
			tweet_count = excluded.tweet_count,
			like_count = excluded.like_count,
			is_verified = excluded.is_verified,
			profile_image_url = excluded.profile_image_url,
			updated_at = CURRENT_TIMESTAMP`,
		p.AccountID, p.ScreenName, p.Description, p.Location, p.FollowersCount,
		p.FollowingCount, p.TweetCount, p.LikeCount, p.IsVerified, p.ProfileImageURL,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert twitter profile: %w", err)
	}
	return nil
}

// TwitterProfileByAccount loads the Twitter profile row for an account.
func (s *SQLiteStorage) TwitterProfileByAccount(ctx context.Context, accountID string) (*TwitterProfile, error) {
	p := &TwitterProfile{}
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, screen_name, description, location, followers_count,
		       following_count, tweet_count, like_count, is_verified, profile_image_url, created_at, updated_at
		FROM twitter_profiles WHERE account_id = ?`, accountID).Scan(
		&p.AccountID, &p.ScreenName, &p.Description, &p.Location, &p.FollowersCount,
		&p.FollowingCount, &p.TweetCount, &p.LikeCount, &p.IsVerified, &p.ProfileImageURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load twitter profile: %w", err)
	}
	return p, nil
}

// RegisterProfileCleanups wires the per-platform profile tables into the
// disconnect fan-out. Call once at startup.
func RegisterProfileCleanups() {
	RegisterCleanupHandler(PlatformLinkedIn, func(ctx context.Context, tx *sql.Tx, accountID string) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM linkedin_profiles WHERE account_id = ?`, accountID)
		return err
	})
	RegisterCleanupHandler(PlatformTwitter, func(ctx context.Context, tx *sql.Tx, accountID string) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM twitter_profiles WHERE account_id = ?`, accountID)
		return err
	})
}
