package changefeed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetracker-backend/internal/models"
)

func TestChannelName(t *testing.T) {
	id := uuid.MustParse("7b0c2f7e-3c1d-4a61-9d6f-2f1b8d3e4a50")
	assert.Equal(t, "timer_sessions:7b0c2f7e-3c1d-4a61-9d6f-2f1b8d3e4a50", channelName(id))
}

func TestDecodeChange(t *testing.T) {
	session := &models.TimerSession{ID: uuid.New(), IsRunning: true, ElapsedSeconds: 90, Version: 3}
	payload, err := json.Marshal(models.Change{
		EventType:  models.ChangeUpdate,
		Table:      models.TableTimerSessions,
		New:        session,
		CommitTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	change, err := decodeChange(string(payload))
	require.NoError(t, err)
	assert.Equal(t, models.ChangeUpdate, change.EventType)
	require.NotNil(t, change.New)
	assert.Equal(t, session.ID, change.New.ID)
	assert.Equal(t, int64(90), change.New.ElapsedSeconds)
	assert.Nil(t, change.Old)

	_, err = decodeChange(`{"table":"timer_sessions"}`)
	assert.Error(t, err)

	_, err = decodeChange(`not json`)
	assert.Error(t, err)
}
