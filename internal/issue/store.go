// Package issue provides PostgreSQL-backed storage and HTTP routes for the
// community issue board: issues with threaded replies, listed newest first.
package issue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Content limits, enforced both here and by CHECK constraints on the tables.
const (
	MaxTitleLen = 140
	MaxBodyLen  = 3000
	MaxReplyLen = 2000
)

// ErrNotFound is returned when the requested issue does not exist.
var ErrNotFound = errors.New("issue: not found")

// Author identifies who wrote an issue or reply.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Issue is a board post. Body is empty in list results.
type Issue struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body,omitempty"`
	Author       Author    `json:"author"`
	RepliesCount int       `json:"repliesCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Reply is a single response to an issue.
type Reply struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issueId"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store manages issues and replies in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an issue store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns issues newest first, bodies omitted to keep the list light.
func (s *Store) List(ctx context.Context, skip, limit int) ([]Issue, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	const query = `
		SELECT id, title, author_id, author_name, author_avatar, replies_count, created_at
		FROM issues
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("issue: list: %w", err)
	}
	defer rows.Close()

	issues := []Issue{}
	for rows.Next() {
		var it Issue
		if err := rows.Scan(&it.ID, &it.Title, &it.Author.ID, &it.Author.Name,
			&it.Author.Avatar, &it.RepliesCount, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("issue: scan: %w", err)
		}
		issues = append(issues, it)
	}
	return issues, rows.Err()
}

// Get returns one issue with its full body plus all replies, oldest first.
func (s *Store) Get(ctx context.Context, id int64) (*Issue, []Reply, error) {
	const issueQuery = `
		SELECT id, title, body, author_id, author_name, author_avatar, replies_count, created_at
		FROM issues WHERE id = $1`

	var it Issue
	err := s.db.QueryRowContext(ctx, issueQuery, id).Scan(&it.ID, &it.Title, &it.Body,
		&it.Author.ID, &it.Author.Name, &it.Author.Avatar, &it.RepliesCount, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("issue: get: %w", err)
	}

	const replyQuery = `
		SELECT id, issue_id, body, author_id, author_name, author_avatar, created_at
		FROM replies WHERE issue_id = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, replyQuery, id)
	if err != nil {
		return nil, nil, fmt.Errorf("issue: replies: %w", err)
	}
	defer rows.Close()

	replies := []Reply{}
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.IssueID, &r.Body, &r.Author.ID,
			&r.Author.Name, &r.Author.Avatar, &r.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("issue: reply scan: %w", err)
		}
		replies = append(replies, r)
	}
	return &it, replies, rows.Err()
}

// Create inserts a new issue and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, title, body string, author Author) (*Issue, error) {
	if title == "" || len(title) > MaxTitleLen {
		return nil, fmt.Errorf("issue: title must be 1-%d characters", MaxTitleLen)
	}
	if body == "" || len(body) > MaxBodyLen {
		return nil, fmt.Errorf("issue: body must be 1-%d characters", MaxBodyLen)
	}

	const query = `
		INSERT INTO issues (title, body, author_id, author_name, author_avatar)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	it := Issue{Title: title, Body: body, Author: author}
	err := s.db.QueryRowContext(ctx, query, title, body, author.ID, author.Name, author.Avatar).
		Scan(&it.ID, &it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("issue: create: %w", err)
	}
	return &it, nil
}

// AddReply inserts a reply and bumps the parent's replies_count in the same
// transaction.
func (s *Store) AddReply(ctx context.Context, issueID int64, body string, author Author) (*Reply, error) {
	if body == "" || len(body) > MaxReplyLen {
		return nil, fmt.Errorf("issue: reply body must be 1-%d characters", MaxReplyLen)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("issue: begin: %w", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO replies (issue_id, body, author_id, author_name, author_avatar)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	r := Reply{IssueID: issueID, Body: body, Author: author}
	err = tx.QueryRowContext(ctx, insertQuery, issueID, body, author.ID, author.Name, author.Avatar).
		Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("issue: add reply: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE issues SET replies_count = replies_count + 1 WHERE id = $1`, issueID)
	if err != nil {
		return nil, fmt.Errorf("issue: bump count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("issue: commit: %w", err)
	}
	return &r, nil
}
