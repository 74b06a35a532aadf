package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homepair-go/internal/auth"
	"homepair-go/internal/recurrence"
	"homepair-go/internal/session"
)

type clientFixture struct {
	stub     *householdStub
	server   *httptest.Server
	store    *auth.InMemoryTokenStore
	manager  *session.Manager
	signOuts *atomic.Int32
	client   *Client
}

func newClientFixture(t *testing.T, signedIn bool) *clientFixture {
	t.Helper()

	stub := newHouseholdStub()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	store := auth.NewInMemoryTokenStore()
	if signedIn {
		require.NoError(t, store.Save(context.Background(), auth.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}))
	}
	manager := session.NewManager(store, nil)
	signOuts := &atomic.Int32{}
	manager.OnSignOut(func() { signOuts.Add(1) })

	refresher := auth.NewHTTPRefresher(server.Client(), server.URL+"/auth/refresh")
	coord := auth.NewCoordinator(server.Client().Transport, store, refresher, manager.SignOut, nil)

	client, err := NewClient(server.URL+"/", &http.Client{Transport: coord}, nil)
	require.NoError(t, err)

	return &clientFixture{
		stub:     stub,
		server:   server,
		store:    store,
		manager:  manager,
		signOuts: signOuts,
		client:   client,
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "api.homepair.test", "://bad"} {
		_, err := NewClient(raw, nil, nil)
		assert.Error(t, err, raw)
	}
}

func TestClient_Headers(t *testing.T) {
	f := newClientFixture(t, true)

	_, err := f.client.CreateTask(context.Background(), NewTask{Title: "Water plants"})
	require.NoError(t, err)

	headers := f.stub.LastHeaders()
	_, err = uuid.Parse(headers.Get("X-Request-ID"))
	assert.NoError(t, err)
	assert.Equal(t, "application/json", headers.Get("Accept"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "Bearer access-1", headers.Get("Authorization"))

	first := headers.Get("X-Request-ID")
	_, err = f.client.ListTasks(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, f.stub.LastHeaders().Get("X-Request-ID"))
	assert.Empty(t, f.stub.LastHeaders().Get("Content-Type"))
}

func TestClient_Login(t *testing.T) {
	f := newClientFixture(t, false)
	ctx := context.Background()

	pair, err := f.client.Login(ctx, "alex@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, auth.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, pair)
	assert.Empty(t, f.stub.LastHeaders().Get("Authorization"))

	require.NoError(t, f.manager.SignIn(ctx, pair, session.User{Email: "alex@example.com"}))

	user, err := f.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.User{ID: "u1", Name: "Alex", Email: "alex@example.com", PartnerID: "u2"}, user)
}

func TestClient_Login_BadCredentials(t *testing.T) {
	f := newClientFixture(t, false)

	_, err := f.client.Login(context.Background(), "alex@example.com", "wrong")

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	assert.Equal(t, "invalid_credentials", appErr.Code)
	assert.Equal(t, "wrong email or password", appErr.Message)
	assert.Equal(t, int32(0), f.signOuts.Load(), "login 401 must not sign out")
	assert.Equal(t, 0, f.stub.Refreshes())
}

func TestClient_Tasks(t *testing.T) {
	f := newClientFixture(t, true)
	ctx := context.Background()

	created, err := f.client.CreateTask(ctx, NewTask{
		Title:      "Take out bins",
		Recurrence: recurrence.NewRule(recurrence.KindCustom, recurrence.Monday, recurrence.Wednesday),
	})
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE", f.stub.LastBody()["recurrence_rule"])
	assert.Equal(t, "t1", created.ID)
	assert.Equal(t, recurrence.KindCustom, created.Recurrence.Kind)
	assert.Equal(t, []recurrence.Weekday{recurrence.Monday, recurrence.Wednesday}, created.Recurrence.ByDays)

	_, err = f.client.CreateTask(ctx, NewTask{Title: "Fix the shelf"})
	require.NoError(t, err)
	body := f.stub.LastBody()
	assert.Contains(t, body, "recurrence_rule")
	assert.Nil(t, body["recurrence_rule"])

	tasks, err := f.client.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Take out bins", tasks[0].Title)
	assert.True(t, tasks[1].Recurrence.IsNone())

	title := "Take out recycling"
	monthly := recurrence.NewRule(recurrence.KindMonthly)
	updated, err := f.client.UpdateTask(ctx, "t1", TaskUpdate{Title: &title, Recurrence: &monthly})
	require.NoError(t, err)
	assert.Equal(t, "Take out recycling", updated.Title)
	assert.Equal(t, recurrence.KindMonthly, updated.Recurrence.Kind)
	assert.Equal(t, map[string]interface{}{"title": "Take out recycling", "recurrence_rule": "FREQ=MONTHLY"}, f.stub.LastBody())

	none := recurrence.Rule{}
	updated, err = f.client.UpdateTask(ctx, "t1", TaskUpdate{Recurrence: &none})
	require.NoError(t, err)
	assert.True(t, updated.Recurrence.IsNone())

	done, err := f.client.CompleteTask(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, done.Completed)

	require.NoError(t, f.client.DeleteTask(ctx, "t2"))

	_, err = f.client.CompleteTask(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestClient_ShoppingItems(t *testing.T) {
	f := newClientFixture(t, true)
	ctx := context.Background()

	item, err := f.client.AddShoppingItem(ctx, NewShoppingItem{Name: "Oat milk", Quantity: "2"})
	require.NoError(t, err)
	assert.Equal(t, "Oat milk", item.Name)
	assert.False(t, item.Checked)

	item, err = f.client.SetShoppingItemChecked(ctx, item.ID, true)
	require.NoError(t, err)
	assert.True(t, item.Checked)

	items, err := f.client.ListShoppingItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Checked)

	require.NoError(t, f.client.DeleteShoppingItem(ctx, item.ID))

	_, err = f.client.SetShoppingItemChecked(ctx, "missing", true)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "no such item", appErr.Message)
}

func TestClient_StatusError(t *testing.T) {
	f := newClientFixture(t, true)

	err := f.client.do(context.Background(), http.MethodGet, "/broken", nil, nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Contains(t, statusErr.Body, "upstream exploded")
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, "HTTP 500 Internal Server Error", err.Error())
}

func TestClient_TransportError(t *testing.T) {
	f := newClientFixture(t, true)
	f.server.Close()

	_, err := f.client.ListTasks(context.Background())

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.MethodGet, transportErr.Method)
	assert.Equal(t, "/tasks", transportErr.Path)
	assert.Equal(t, 0, StatusCode(err))
}

func TestClient_ContextCancelled(t *testing.T) {
	f := newClientFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.client.ListTasks(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_RecoversFromExpiredToken(t *testing.T) {
	f := newClientFixture(t, true)
	ctx := context.Background()
	f.stub.expire()

	_, err := f.client.CreateTask(ctx, NewTask{Title: "Vacuum", Recurrence: recurrence.NewRule(recurrence.KindWeekly)})
	require.NoError(t, err)

	assert.Equal(t, 1, f.stub.Refreshes())
	assert.Equal(t, "FREQ=WEEKLY", f.stub.LastBody()["recurrence_rule"], "replayed body intact")
	assert.Equal(t, "Bearer access-2", f.stub.LastHeaders().Get("Authorization"))

	pair, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-1"}, pair)
	assert.Equal(t, int32(0), f.signOuts.Load())
}

func TestClient_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	f := newClientFixture(t, true)
	f.stub.expire()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.client.ListShoppingItems(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	// Requests that lost the race to the first refresh may trigger at most
	// one further cycle each; none may fail.
	assert.GreaterOrEqual(t, f.stub.Refreshes(), 1)
	assert.Equal(t, int32(0), f.signOuts.Load())
}

func TestClient_RefreshFailureSignsOut(t *testing.T) {
	f := newClientFixture(t, true)
	ctx := context.Background()
	f.manager.SetUser(session.User{ID: "u1"})
	require.NoError(t, f.store.Save(ctx, auth.TokenPair{AccessToken: "stale", RefreshToken: "revoked"}))

	_, err := f.client.ListTasks(ctx)

	var refreshErr *auth.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	var transportErr *TransportError
	assert.False(t, errors.As(err, &transportErr))
	assert.Contains(t, err.Error(), "refresh token revoked")

	assert.Equal(t, int32(1), f.signOuts.Load())
	_, signedIn := f.manager.Current()
	assert.False(t, signedIn)
	_, err = f.store.Get(ctx)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusNoContent))
	assert.Equal(t, "4xx", statusClass(http.StatusUnauthorized))
	assert.Equal(t, "5xx", statusClass(http.StatusBadGateway))
}
