package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/identity"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/mail"
)

var codePattern = regexp.MustCompile(`\b(\d{8})\b`)

type recordingQueue struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, msg mail.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *recordingQueue) last(t *testing.T) mail.Message {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.messages)
	return q.messages[len(q.messages)-1]
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *recordingQueue) lastCode(t *testing.T) string {
	t.Helper()
	match := codePattern.FindStringSubmatch(q.last(t).Body)
	require.Len(t, match, 2, "message carries no code")
	return match[1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type workflowFixture struct {
	db           *gorm.DB
	store        *store.CredentialStore
	queue        *recordingQueue
	clock        *fakeClock
	audit        *AuditService
	registration *RegistrationService
	recovery     *RecoveryService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	credentials, err := store.NewCredentialStore(db)
	require.NoError(t, err)
	audit, err := NewAuditService(db)
	require.NoError(t, err)

	f := &workflowFixture{
		db:    db,
		store: credentials,
		queue: &recordingQueue{},
		clock: newFakeClock(),
		audit: audit,
	}
	rules := identity.NewRules(identity.DefaultPasswordPolicy())

	f.registration, err = NewRegistrationService(credentials, rules, f.queue,
		WithRegistrationClock(f.clock.Now),
		WithRegistrationAudit(audit),
	)
	require.NoError(t, err)

	f.recovery, err = NewRecoveryService(credentials, rules, f.queue,
		WithRecoveryClock(f.clock.Now),
		WithRecoveryAudit(audit),
	)
	require.NoError(t, err)
	return f
}

// registerConfirmed registers and confirms an account, returning its id.
func (f *workflowFixture) registerConfirmed(t *testing.T, username, email, password string) string {
	t.Helper()
	ctx := context.Background()

	pendingID, err := f.registration.Register(ctx, RegisterInput{Username: username, Email: email, Password: password})
	require.NoError(t, err)

	account, err := f.registration.Confirm(ctx, pendingID, f.queue.lastCode(t))
	require.NoError(t, err)
	return account.ID
}
