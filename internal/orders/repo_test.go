package orders_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

// setupRepo connects to TEST_POSTGRES_DSN; the pgx tests are skipped without it.
func setupRepo(t *testing.T) (*orders.Repo, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, postgres.Migrate(dsn))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := postgres.Connect(ctx, dsn, 16)
	require.NoError(t, err)

	truncate := func() {
		_, err := db.Exec(context.Background(), "TRUNCATE TABLE order_items, orders, products")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})
	return &orders.Repo{DB: db, Isolation: pgx.ReadCommitted}, db
}

func seedProduct(t *testing.T, db *pgxpool.Pool, price string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(context.Background(),
		`INSERT INTO products(id, name, price, stock) VALUES ($1, $2, $3::numeric, $4)`,
		id, "product-"+id.String()[:8], price, stock)
	require.NoError(t, err)
	return id
}

func productStock(t *testing.T, db *pgxpool.Pool, id uuid.UUID) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = $1`, id).Scan(&n))
	return n
}

func countRows(t *testing.T, db *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestRepo_PlaceAndRead(t *testing.T) {
	repo, db := setupRepo(t)
	pid := seedProduct(t, db, "12.50", 5)
	c := orders.NewCoordinator(repo)
	ctx := context.Background()

	o, err := c.PlaceOrder(ctx, testUser, []orders.Line{{ProductID: pid, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, productStock(t, db, pid))

	got, err := repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "37.50", got.TotalPrice.StringFixed(2))
	assert.Equal(t, orders.StatusPending, got.Status)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "12.5", got.Items[0].UnitPrice.String())

	list, err := repo.ListOrdersByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, o.ID, list[0].ID)

	_, err = repo.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestRepo_FailedCartLeavesNothing(t *testing.T) {
	repo, db := setupRepo(t)
	first := seedProduct(t, db, "5.00", 10)
	c := orders.NewCoordinator(repo)

	_, err := c.PlaceOrder(context.Background(), testUser, []orders.Line{
		{ProductID: first, Quantity: 4},
		{ProductID: uuid.New(), Quantity: 1},
	})
	require.ErrorIs(t, err, orders.ErrProductNotFound)

	_, err = c.PlaceOrder(context.Background(), testUser, []orders.Line{{ProductID: first, Quantity: 11}})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	assert.Equal(t, 10, productStock(t, db, first))
	assert.Equal(t, 0, countRows(t, db, "orders"))
	assert.Equal(t, 0, countRows(t, db, "order_items"))
}

func TestRepo_NoOversell(t *testing.T) {
	repo, db := setupRepo(t)
	pid := seedProduct(t, db, "1.00", 5)
	c := orders.NewCoordinator(repo)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.PlaceOrder(context.Background(), testUser, []orders.Line{{ProductID: pid, Quantity: 1}})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, orders.ErrInsufficientStock) && !errors.Is(err, orders.ErrTransactionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 0, productStock(t, db, pid))
}

func TestRepo_TransitionStatus(t *testing.T) {
	repo, db := setupRepo(t)
	pid := seedProduct(t, db, "2.00", 10)
	c := orders.NewCoordinator(repo)
	ctx := context.Background()

	o, err := c.PlaceOrder(ctx, testUser, []orders.Line{{ProductID: pid, Quantity: 2}, {ProductID: pid, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 5, productStock(t, db, pid))

	from, err := repo.TransitionStatus(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, from)
	assert.Equal(t, 10, productStock(t, db, pid))

	_, err = repo.TransitionStatus(ctx, o.ID, orders.StatusShipped)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = repo.TransitionStatus(ctx, uuid.New(), orders.StatusShipped)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}
