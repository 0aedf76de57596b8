package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umoja/internal/events"
	"umoja/internal/identity"
	"umoja/internal/rewards/models"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStoreAppend(t *testing.T) {
	entry := models.Entry{
		EventID:   domain.NewEventID(),
		UserID:    "amani",
		EventType: events.ContributionRecorded,
		Tier:      identity.TierElder,
		Amount:    60,
		CreatedAt: t0,
	}

	t.Run("inserts the entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("INSERT INTO reward_entries").
			WithArgs(entry.EventID.String(), "amani", "ContributionRecorded", "elder", int64(60), t0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, New(db).Append(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate event is already exists", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("INSERT INTO reward_entries").WillReturnResult(sqlmock.NewResult(0, 0))

		err = New(db).Append(context.Background(), entry)
		assert.True(t, errors.Is(err, sentinel.ErrAlreadyExists))
	})
}

func TestStoreListByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := domain.NewEventID()
	rows := sqlmock.NewRows([]string{"event_id", "user_id", "event_type", "tier", "amount", "created_at"}).
		AddRow(id.String(), "baraka", "VoteCast", "member", int64(2), t0)
	mock.ExpectQuery("SELECT event_id, user_id, event_type, tier, amount, created_at").
		WithArgs("baraka").
		WillReturnRows(rows)

	got, err := New(db).ListByUser(context.Background(), "baraka")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].EventID)
	assert.Equal(t, events.VoteCast, got[0].EventType)
	assert.Equal(t, identity.TierMember, got[0].Tier)
	assert.Equal(t, domain.Amount(2), got[0].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("amani").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(142)))

	total, err := New(db).Balance(context.Background(), "amani")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(142), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
