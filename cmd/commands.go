package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"snoosync/internal/domain"
	"snoosync/internal/reconcile"
	"snoosync/internal/search"
)

const usage = `usage: snoosync [command]

commands:
  run                          sync subscriptions and fetch on schedule (default)
  subscriptions                list local subscriptions and their status
  subscribe <id> <name>        add a local subscription
  unsubscribe <id>             remove a local subscription
  priority <id> <0-2>          change fetch volume of a subscription
  refresh <id>                 forget watermarks and fetch again
  posts <id>                   list stored posts of a subscription
  comments <subreddit> <post>  print the comment tree of a post
  read <content-hash>          mark content as read everywhere
  vote <post> <up|down|none>   vote on a stored post
  save <post> | unsave <post>  save or unsave a stored post
  search                       search subreddits, one query per input line`

var errUsage = errors.New(usage)

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.serve(ctx)
	}

	cmd, rest := args[0], args[1:]

	switch {
	case cmd == "run" && len(rest) == 0:
		return a.serve(ctx)
	case cmd == "subscriptions" && len(rest) == 0:
		return a.listSubscriptions(ctx)
	case cmd == "subscribe" && len(rest) == 2:
		return a.scheduler.Subscribe(ctx, domain.Subreddit{ID: rest[0], Name: rest[1]})
	case cmd == "unsubscribe" && len(rest) == 1:
		return a.scheduler.Unsubscribe(ctx, rest[0])
	case cmd == "priority" && len(rest) == 2:
		priority, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("parse priority: %w", err)
		}

		return a.scheduler.SetPriority(ctx, rest[0], priority)
	case cmd == "refresh" && len(rest) == 1:
		inserted, err := a.scheduler.ForceRefresh(ctx, rest[0])
		if err != nil {
			return err
		}

		fmt.Printf("%d new posts\n", inserted)

		return nil
	case cmd == "posts" && len(rest) == 1:
		return a.listPosts(ctx, rest[0])
	case cmd == "comments" && len(rest) == 2:
		return a.printComments(ctx, rest[0], rest[1])
	case cmd == "read" && len(rest) == 1:
		return a.scheduler.MarkRead(ctx, rest[0])
	case cmd == "vote" && len(rest) == 2:
		vote, err := parseVote(rest[1])
		if err != nil {
			return err
		}

		return a.reconcile(ctx, rest[0], func(r *reconcile.Reconciler, post domain.Post) error {
			return r.SetVote(ctx, post, vote)
		})
	case (cmd == "save" || cmd == "unsave") && len(rest) == 1:
		return a.reconcile(ctx, rest[0], func(r *reconcile.Reconciler, post domain.Post) error {
			return r.SetSaved(ctx, post, cmd == "save")
		})
	case cmd == "search" && len(rest) == 0:
		return a.search(ctx)
	default:
		return errUsage
	}
}

func (a *app) listSubscriptions(ctx context.Context) error {
	subs, err := a.db.GetSubscriptions(ctx)
	if err != nil {
		return err
	}

	now := time.Now()

	for _, sub := range subs {
		period, due := sub.NextMostFrequentUpdate(now)
		fmt.Printf("%s\tr/%s\tpriority=%d\tposts=%d\tstatus=%s\tnext=%s@%s\n",
			sub.ID, sub.Name, sub.Priority, sub.PostCount, a.scheduler.Status(sub.ID),
			period, due.Format("2006-01-02 15:04"))
	}

	return nil
}

func (a *app) listPosts(ctx context.Context, subscriptionID string) error {
	posts, err := a.db.GetPosts(ctx, subscriptionID)
	if err != nil {
		return err
	}

	for _, post := range posts {
		fmt.Printf("%s\t%d\t%s\t%s\n", post.ID, post.Score, post.ContentHash, post.Title)
	}

	return nil
}

func (a *app) printComments(ctx context.Context, subreddit string, postID string) error {
	result, err := a.client.Comments(ctx, subreddit, postID)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%d comments)\n", result.Post.Title, result.Post.CommentCount)
	printCommentTree(result.Comments.Values, 1)

	return nil
}

func printCommentTree(comments []domain.Comment, depth int) {
	indent := strings.Repeat("  ", depth)

	for _, c := range comments {
		if c.IsPlaceholder() {
			fmt.Printf("%s[%d more]\n", indent, len(c.UnloadedChildIDs))
			continue
		}

		body, _, _ := strings.Cut(c.Body, "\n")
		fmt.Printf("%s%s (%d): %s\n", indent, c.Author, c.Score, body)

		if c.Replies != nil {
			printCommentTree(c.Replies.Values, depth+1)
		}
	}
}

func (a *app) reconcile(
	ctx context.Context,
	postID string,
	apply func(r *reconcile.Reconciler, post domain.Post) error,
) error {
	post, err := a.db.GetPost(ctx, postID)
	if err != nil {
		return err
	}

	r := reconcile.New(a.db, a.client, a.log)
	if err = apply(r, post); err != nil {
		return err
	}

	r.Wait()

	return nil
}

func (a *app) search(ctx context.Context) error {
	s := search.New(ctx, a.client, search.DefaultQuietPeriod, a.log)
	defer s.Close()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case result := <-s.Results():
				if result.Err != nil {
					fmt.Printf("%q: %v\n", result.Query, result.Err)
					continue
				}

				for _, sub := range result.Subreddits {
					fmt.Printf("%q: r/%s\n", result.Query, sub.Name)
				}
			}
		}
	}()

	var last string

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		last = scanner.Text()
		s.Type(last)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	// Input ended inside the quiet period; answer the final query directly.
	s.Close()

	subreddits, err := s.Search(ctx, last)
	if err != nil {
		return err
	}

	for _, sub := range subreddits {
		fmt.Printf("%q: r/%s\n", last, sub.Name)
	}

	return nil
}

func parseVote(raw string) (domain.Vote, error) {
	switch raw {
	case "up":
		return domain.VoteUp, nil
	case "down":
		return domain.VoteDown, nil
	case "none":
		return domain.VoteNone, nil
	default:
		return domain.VoteNone, fmt.Errorf("unknown vote %q: %w", raw, errUsage)
	}
}
