package groups

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads group membership.
type Repository interface {
	ListForMember(ctx context.Context, identityID string) ([]Group, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed group repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListForMember returns identityID's groups, newest first. One row comes back
// per expense, or a single row with NULL expense columns for a group with
// none.
func (r *PostgresRepository) ListForMember(ctx context.Context, identityID string) ([]Group, error) {
	member, err := uuid.Parse(identityID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT g.id::text, g.name, g.description, g.created_by::text, g.created_at,
            (SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id),
            e.id::text, e.total_amount, e.status
        FROM groups g
        JOIN group_members m ON m.group_id = g.id AND m.identity_id = $1
        LEFT JOIN expenses e ON e.group_id = g.id
        ORDER BY g.created_at DESC, g.id, e.created_at`, member)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g         Group
			members   int64
			expenseID *string
			amount    *int64
			status    *string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt, &members,
			&expenseID, &amount, &status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if n := len(out); n == 0 || out[n-1].ID != g.ID {
			g.CreatedAt = g.CreatedAt.UTC()
			g.Members = int(members)
			g.Expenses = []Expense{}
			out = append(out, g)
		}
		if expenseID != nil {
			last := &out[len(out)-1]
			last.Expenses = append(last.Expenses, Expense{ID: *expenseID, TotalAmount: deref(amount), Status: deref(status)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// MemoryRepository keeps groups in process memory for tests and dev mode.
type MemoryRepository struct {
	mu      sync.RWMutex
	groups  map[string]Group
	members map[string]map[string]bool
}

// NewMemoryRepository builds an empty in-memory group store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{groups: make(map[string]Group), members: make(map[string]map[string]bool)}
}

// Add stores g with the given member identities. A zero ID or CreatedAt is
// filled in.
func (r *MemoryRepository) Add(g Group, memberIDs ...string) Group {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.Expenses = append([]Expense{}, g.Expenses...)

	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		set[id] = true
	}
	g.Members = len(set)
	r.groups[g.ID] = g
	r.members[g.ID] = set
	return g
}

func (r *MemoryRepository) ListForMember(_ context.Context, identityID string) ([]Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Group
	for id, g := range r.groups {
		if !r.members[id][identityID] {
			continue
		}
		g.Expenses = append([]Expense{}, g.Expenses...)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
