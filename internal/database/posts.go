package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"snoosync/internal/domain"
)

// MergeFetch is the transactional save of one successful fetch: every post
// whose content was not read yet is created under the subscription, the
// period watermark advances and the derived post count is refreshed.
func (d *Database) MergeFetch(
	ctx context.Context,
	subscriptionID string,
	period domain.Period,
	posts []domain.Post,
	fetchedAt time.Time,
) (int, error) {
	inserted := 0

	err := d.inTx(ctx, "MergeFetch", func(tx *sql.Tx) error {
		inserted = 0

		for i := range posts {
			ok, err := createOrSkip(ctx, tx, &posts[i], subscriptionID)
			if err != nil {
				return fmt.Errorf("create post %s: %w", posts[i].ID, err)
			}

			if ok {
				inserted++
			}
		}

		if err := updateWatermark(ctx, tx, subscriptionID, period, fetchedAt); err != nil {
			return err
		}

		return refreshPostCount(ctx, tx, subscriptionID)
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// CreateOrSkip stores the post unless its content was already read anywhere
// or the subscription already holds it.
func (d *Database) CreateOrSkip(ctx context.Context, post *domain.Post, subscriptionID string) (bool, error) {
	var created bool

	err := d.inTx(ctx, "CreateOrSkip", func(tx *sql.Tx) error {
		var err error
		if created, err = createOrSkip(ctx, tx, post, subscriptionID); err != nil {
			return err
		}

		return refreshPostCount(ctx, tx, subscriptionID)
	})

	return created, err
}

func createOrSkip(ctx context.Context, q queryer, post *domain.Post, subscriptionID string) (bool, error) {
	if post.ContentHash == "" {
		return false, errors.New("content hash is empty")
	}

	var readAt sql.NullTime
	err := q.QueryRowContext(ctx, "select read_at from read_metadata where content_hash = ?", post.ContentHash).
		Scan(&readAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("scan row: %w", err)
	}

	if readAt.Valid {
		return false, nil
	}

	var media any
	if post.PreviewMedia != nil {
		blob, marshalErr := json.Marshal(post.PreviewMedia)
		if marshalErr != nil {
			return false, fmt.Errorf("marshal preview media: %w", marshalErr)
		}
		media = string(blob)
	}

	query := `insert or ignore into posts (
		id, subscription_id, content_hash, title, author, score, comment_count,
		created_at, edited_at, saved, vote, url, self_text, thumbnail_url,
		crosspost_origin_id, crosspost_origin_subreddit, preview_media
	) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := q.ExecContext(ctx, query,
		post.ID,
		subscriptionID,
		post.ContentHash,
		post.Title,
		post.Author,
		post.Score,
		post.CommentCount,
		post.CreatedAt.UTC(),
		nullTime(post.EditedAt),
		post.SavedByUser,
		int(post.UserVote),
		post.URL,
		post.SelfText,
		post.ThumbnailURL,
		post.CrosspostOriginID,
		post.CrosspostOriginSubreddit,
		media,
	)
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return false, nil
	}

	if _, err = q.ExecContext(ctx,
		"insert or ignore into read_metadata (content_hash, read_at) values (?, null)",
		post.ContentHash,
	); err != nil {
		return false, fmt.Errorf("insert read metadata: %w", err)
	}

	return true, nil
}

func refreshPostCount(ctx context.Context, q queryer, subscriptionID string) error {
	query := `update subscriptions
	set post_count = (select count(*) from posts where subscription_id = ?)
	where id = ?`

	if _, err := q.ExecContext(ctx, query, subscriptionID, subscriptionID); err != nil {
		return fmt.Errorf("refresh post count: %w", err)
	}

	return nil
}

// RecordRead marks every post sharing the content hash as read.
func (d *Database) RecordRead(ctx context.Context, contentHash string, readAt time.Time) error {
	query := `insert into read_metadata (content_hash, read_at)
	values (?, ?)
	on conflict (content_hash) do update
	set read_at = excluded.read_at`

	_, err := d.db.ExecContext(ctx, query, contentHash, readAt.UTC())

	return err
}

func (d *Database) GetReadMetadata(ctx context.Context, contentHash string) (domain.ReadMetadata, error) {
	var readAt sql.NullTime

	err := d.db.QueryRowContext(ctx, "select read_at from read_metadata where content_hash = ?", contentHash).
		Scan(&readAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReadMetadata{}, fmt.Errorf("read metadata %s: %w", contentHash, ErrNotFound)
		}

		return domain.ReadMetadata{}, fmt.Errorf("scan row: %w", err)
	}

	meta := domain.ReadMetadata{ContentHash: contentHash}
	if readAt.Valid {
		at := readAt.Time.UTC()
		meta.ReadAt = &at
	}

	return meta, nil
}

// PruneReadMetadata drops unread metadata no post refers to anymore. Read
// records are kept so the content is never re-inserted.
func (d *Database) PruneReadMetadata(ctx context.Context) (int64, error) {
	query := `delete from read_metadata
	where read_at is null
	and not exists (select 1 from posts where posts.content_hash = read_metadata.content_hash)`

	res, err := d.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete read metadata: %w", err)
	}

	return res.RowsAffected()
}

const selectPosts = `select p.id, s.name, p.content_hash, p.title, p.author, p.score, p.comment_count,
		p.created_at, p.edited_at, p.saved, p.vote, p.url, p.self_text, p.thumbnail_url,
		p.crosspost_origin_id, p.crosspost_origin_subreddit, p.preview_media
	from posts as p
	join subscriptions as s on s.id = p.subscription_id`

func (d *Database) GetPosts(ctx context.Context, subscriptionID string) ([]domain.Post, error) {
	return d.queryPosts(ctx, "GetPosts",
		selectPosts+" where p.subscription_id = ? order by p.score desc, p.created_at desc", subscriptionID)
}

// GetPost returns the post with the given ID from any subscription holding
// it.
func (d *Database) GetPost(ctx context.Context, postID string) (domain.Post, error) {
	posts, err := d.queryPosts(ctx, "GetPost", selectPosts+" where p.id = ? limit 1", postID)
	if err != nil {
		return domain.Post{}, err
	}

	if len(posts) == 0 {
		return domain.Post{}, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}

	return posts[0], nil
}

func (d *Database) queryPosts(ctx context.Context, operation string, query string, args ...any) ([]domain.Post, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", operation)
		}
	}()

	var posts []domain.Post
	for rows.Next() {
		var (
			p        domain.Post
			editedAt sql.NullTime
			vote     int
			media    sql.NullString
		)

		if err = rows.Scan(
			&p.ID, &p.Subreddit, &p.ContentHash, &p.Title, &p.Author, &p.Score, &p.CommentCount,
			&p.CreatedAt, &editedAt, &p.SavedByUser, &vote, &p.URL, &p.SelfText, &p.ThumbnailURL,
			&p.CrosspostOriginID, &p.CrosspostOriginSubreddit, &media,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		p.CreatedAt = p.CreatedAt.UTC()
		p.UserVote = domain.Vote(vote)

		if editedAt.Valid {
			at := editedAt.Time.UTC()
			p.EditedAt = &at
		}

		if media.Valid && media.String != "" {
			var pm domain.PreviewMedia
			if unmarshalErr := json.Unmarshal([]byte(media.String), &pm); unmarshalErr != nil {
				d.log.WarnContext(ctx, "Failed to decode stored preview media",
					"error", unmarshalErr,
					"postID", p.ID)
			} else {
				p.PreviewMedia = &pm
			}
		}

		posts = append(posts, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return posts, nil
}

func (d *Database) UpdatePostVote(ctx context.Context, postID string, vote domain.Vote) error {
	_, err := d.db.ExecContext(ctx, "update posts set vote = ? where id = ?", int(vote), postID)

	return err
}

func (d *Database) UpdatePostSaved(ctx context.Context, postID string, saved bool) error {
	_, err := d.db.ExecContext(ctx, "update posts set saved = ? where id = ?", saved, postID)

	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}
