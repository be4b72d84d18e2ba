package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"snoosync/internal/domain"
)

type Field string

const (
	FieldVote  Field = "vote"
	FieldSaved Field = "saved"
)

type PostStore interface {
	UpdatePostVote(ctx context.Context, postID string, vote domain.Vote) error
	UpdatePostSaved(ctx context.Context, postID string, saved bool) error
}

type Remote interface {
	Vote(ctx context.Context, postID string, vote domain.Vote) error
	SetSaved(ctx context.Context, postID string, saved bool) error
}

type fieldID struct {
	postID string
	field  Field
}

// record tracks the single unconfirmed remote write of one field. previous is
// the value before the first toggle that is still unconfirmed.
type record struct {
	previous   any
	cancel     context.CancelFunc
	generation uint64
}

// Reconciler applies vote and saved changes locally first and confirms them
// remotely in the background. A newer change to the same field cancels the
// pending confirmation of the older one.
type Reconciler struct {
	mu         sync.Mutex
	pending    map[fieldID]*record
	generation uint64
	wg         sync.WaitGroup

	store  PostStore
	remote Remote
	log    *slog.Logger
}

func New(store PostStore, remote Remote, log *slog.Logger) *Reconciler {
	return &Reconciler{
		pending: make(map[fieldID]*record),
		store:   store,
		remote:  remote,
		log:     log,
	}
}

// SetVote persists vote for the post and sends it to the API. post carries
// the currently shown value.
func (r *Reconciler) SetVote(ctx context.Context, post domain.Post, vote domain.Vote) error {
	if !vote.Valid() {
		return fmt.Errorf("invalid vote: %d", vote)
	}

	return apply(ctx, r, fieldID{postID: post.ID, field: FieldVote}, post.UserVote, vote,
		r.store.UpdatePostVote, r.remote.Vote)
}

func (r *Reconciler) SetSaved(ctx context.Context, post domain.Post, saved bool) error {
	return apply(ctx, r, fieldID{postID: post.ID, field: FieldSaved}, post.SavedByUser, saved,
		r.store.UpdatePostSaved, r.remote.SetSaved)
}

// Pending reports whether a remote confirmation is outstanding for the field.
func (r *Reconciler) Pending(postID string, field Field) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[fieldID{postID: postID, field: field}]

	return ok
}

// Wait blocks until every background confirmation has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func apply[T comparable](
	ctx context.Context,
	r *Reconciler,
	id fieldID,
	current T,
	next T,
	persist func(ctx context.Context, postID string, value T) error,
	send func(ctx context.Context, postID string, value T) error,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A pending send keeps running until the new value is stored, so a
	// failed persist leaves it to confirm or roll back its own value.
	if err := persist(ctx, id.postID, next); err != nil {
		return fmt.Errorf("persist %s: %w", id.field, err)
	}

	previous := current
	if rec, ok := r.pending[id]; ok {
		rec.cancel()

		if v, castOk := rec.previous.(T); castOk {
			previous = v
		}
	}

	r.generation++
	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec := &record{
		previous:   previous,
		cancel:     cancel,
		generation: r.generation,
	}
	r.pending[id] = rec

	r.wg.Go(func() {
		defer cancel()

		err := send(sendCtx, id.postID, next)
		r.settle(ctx, id, rec.generation, err, func(rollbackCtx context.Context) error {
			return persist(rollbackCtx, id.postID, previous)
		})
	})

	return nil
}

// settle completes the confirmation of one generation. Superseded
// generations are ignored: the newer one owns the field.
func (r *Reconciler) settle(
	ctx context.Context,
	id fieldID,
	generation uint64,
	sendErr error,
	rollback func(ctx context.Context) error,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pending[id]
	if !ok || rec.generation != generation {
		r.log.DebugContext(ctx, "Dropping superseded confirmation",
			"postID", id.postID,
			"field", id.field,
			"error", sendErr)

		return
	}

	delete(r.pending, id)

	if sendErr == nil {
		return
	}

	r.log.WarnContext(ctx, "Remote update failed, rolling back",
		"error", sendErr,
		"postID", id.postID,
		"field", id.field)

	if err := rollback(context.WithoutCancel(ctx)); err != nil {
		r.log.ErrorContext(ctx, "Failed to roll back field",
			"error", errors.Join(sendErr, err),
			"postID", id.postID,
			"field", id.field)
	}
}
