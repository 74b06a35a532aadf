package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"homepair-go/internal/auth"
	"homepair-go/internal/recurrence"
	"homepair-go/internal/session"
)

// Task is a household chore, possibly repeating.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Notes       string          `json:"notes,omitempty"`
	AssigneeID  string          `json:"assignee_id,omitempty"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Completed   bool            `json:"completed"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Recurrence  recurrence.Rule `json:"recurrence_rule"`
}

// NewTask is the body of a task creation.
type NewTask struct {
	Title      string          `json:"title"`
	Notes      string          `json:"notes,omitempty"`
	AssigneeID string          `json:"assignee_id,omitempty"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	Recurrence recurrence.Rule `json:"recurrence_rule"`
}

// TaskUpdate is a partial update; nil fields are left unchanged. A non-nil
// Recurrence of kind None clears the schedule.
type TaskUpdate struct {
	Title      *string          `json:"title,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	AssigneeID *string          `json:"assignee_id,omitempty"`
	DueDate    *time.Time       `json:"due_date,omitempty"`
	Recurrence *recurrence.Rule `json:"recurrence_rule,omitempty"`
}

// ShoppingItem is an entry on the shared shopping list.
type ShoppingItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Checked  bool   `json:"checked"`
	AddedBy  string `json:"added_by,omitempty"`
}

// NewShoppingItem is the body of a shopping item creation.
type NewShoppingItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair. The call bypasses token
// refresh: a 401 here means bad credentials.
func (c *Client) Login(ctx context.Context, email, password string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.do(auth.WithoutRefresh(ctx), http.MethodPost, "/auth/login", credentials{Email: email, Password: password}, &pair)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return auth.TokenPair{}, errors.New("login response missing access token")
	}
	return pair, nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (session.User, error) {
	var user session.User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, &user)
	return user, err
}

// ListTasks returns all household tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, task NewTask) (Task, error) {
	var created Task
	err := c.do(ctx, http.MethodPost, "/tasks", task, &created)
	return created, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (Task, error) {
	var updated Task
	err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), update, &updated)
	return updated, err
}

// CompleteTask marks a task done. For a repeating task the server schedules
// the next occurrence.
func (c *Client) CompleteTask(ctx context.Context, id string) (Task, error) {
	var task Task
	err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/complete", nil, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// ListShoppingItems returns the shared shopping list.
func (c *Client) ListShoppingItems(ctx context.Context) ([]ShoppingItem, error) {
	var items []ShoppingItem
	if err := c.do(ctx, http.MethodGet, "/shopping-items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) AddShoppingItem(ctx context.Context, item NewShoppingItem) (ShoppingItem, error) {
	var created ShoppingItem
	err := c.do(ctx, http.MethodPost, "/shopping-items", item, &created)
	return created, err
}

// SetShoppingItemChecked ticks or unticks an item.
func (c *Client) SetShoppingItemChecked(ctx context.Context, id string, checked bool) (ShoppingItem, error) {
	var item ShoppingItem
	body := struct {
		Checked bool `json:"checked"`
	}{checked}
	err := c.do(ctx, http.MethodPatch, "/shopping-items/"+url.PathEscape(id), body, &item)
	return item, err
}

func (c *Client) DeleteShoppingItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/shopping-items/"+url.PathEscape(id), nil, nil)
}
